// Package clustering provides the common contract for partition-clustering
// engines over square similarity matrices.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hed1ad/logclust/pkg/matrix"
)

var (
	// ErrConfig marks caller misuse: bad cluster count, matrix too small or
	// malformed, unsupported option combinations. Never retried.
	ErrConfig = errors.New("clustering: invalid configuration")

	// ErrInternal marks a broken engine invariant, such as cluster bookkeeping
	// drifting from a full recomputation.
	ErrInternal = errors.New("clustering: internal invariant violated")
)

// Configf returns an error wrapping ErrConfig.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Internalf returns an error wrapping ErrInternal.
func Internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}

// Clusterer is the common interface for all clustering engines.
type Clusterer interface {
	// Cluster partitions the rows of m. m is read-only for the duration of
	// the call.
	Cluster(ctx context.Context, m matrix.Matrix) (*Result, error)
}

// Config holds the settings shared by every engine.
type Config struct {
	// Clusters is the requested number of clusters.
	Clusters int `yaml:"clusters" validate:"min=2"`
	// Runs is the number of independent runs; the best one is kept.
	Runs int `yaml:"runs" validate:"min=1"`
	// MaxIterations caps the work of one run. Zero selects the engine default.
	MaxIterations int `yaml:"max_iterations" validate:"min=0"`
	// Seed is the seed of the first run; run r uses Seed+r.
	Seed int64 `yaml:"seed"`
	// Workers bounds the number of runs executed concurrently. Zero means
	// GOMAXPROCS.
	Workers int `yaml:"workers" validate:"min=0"`
	// CollectRuns keeps a RunSummary for every run in the result.
	CollectRuns bool `yaml:"collect_runs"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Clusters: 2,
		Runs:     10,
		Seed:     0,
	}
}

// RunSummary describes one independent run.
type RunSummary struct {
	Run        int
	Seed       int64
	Score      float64
	Trials     int
	IdleTrials int
	Elapsed    time.Duration
	Converged  bool
}

// Result is a partition of the matrix rows.
type Result struct {
	// Labels holds the cluster index of every row.
	Labels []int
	// Clusters lists the member rows of every cluster in ascending order.
	Clusters [][]int
	// ClusterScores holds the engine-specific score of every cluster.
	ClusterScores []float64
	// Score is the overall score of the partition.
	Score float64
	// BestRun is the index of the run that produced the partition.
	BestRun int
	// Runs holds one summary per run when requested.
	Runs []RunSummary
	// IDs optionally holds the external message id of every row.
	IDs []int
}

// NewResult builds a Result from a label array with k clusters.
func NewResult(labels []int, k int) *Result {
	r := &Result{
		Labels:        append([]int(nil), labels...),
		Clusters:      make([][]int, k),
		ClusterScores: make([]float64, k),
	}
	for i, c := range labels {
		r.Clusters[c] = append(r.Clusters[c], i)
	}
	return r
}

// Sizes returns the number of members of every cluster.
func (r *Result) Sizes() []int {
	sizes := make([]int, len(r.Clusters))
	for c, members := range r.Clusters {
		sizes[c] = len(members)
	}
	return sizes
}
