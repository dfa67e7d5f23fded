package kmeans

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logclust_kmeans_runs_total",
		Help: "Total k-means runs by convergence",
	}, []string{"converged"})

	iterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logclust_kmeans_iterations_total",
		Help: "Total Lloyd iterations",
	})
)
