package iclust

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished runs by convergence.
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logclust_iclust_runs_total",
		Help: "Total IClust runs by convergence",
	}, []string{"converged"})

	trialsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logclust_iclust_trials_total",
		Help: "Total IClust trials",
	})

	movesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logclust_iclust_moves_total",
		Help: "Total IClust element moves",
	})

	// runDuration tracks the wall time of a single run
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logclust_iclust_run_duration_seconds",
		Help:    "IClust run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12), // 0.1ms to ~7min
	})

	bestScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logclust_iclust_best_score",
		Help: "Score of the best partition of the last clustering call",
	})
)
