package mutualinfo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// intervalsTotal counts intervals accumulated by estimator variant.
	intervalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logclust_mi_intervals_total",
		Help: "Total intervals accumulated by the mutual information estimator",
	}, []string{"variant"})

	// ignoredIDsTotal counts message occurrences outside the legal id set.
	ignoredIDsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logclust_mi_ignored_ids_total",
		Help: "Total message ids ignored because they are not in the legal id set",
	})
)
