// Package kmeans implements Lloyd's k-means as a companion engine to IClust.
//
// Each row of the input matrix is treated as a point. Every run picks K
// distinct points as initial centroids and alternates assignment and
// centroid updates until no point changes cluster. The run with the lowest
// total distance wins.
package kmeans

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/logclust/pkg/clustering"
	"github.com/hed1ad/logclust/pkg/matrix"
)

// Name is the registry name of the engine.
const Name = "kmeans"

// DefaultMaxIterations caps a run when no explicit cap is configured.
const DefaultMaxIterations = 100

func init() {
	clustering.Register(Name, fromSpec)
}

// DistanceFunc measures the distance between two points of equal length.
type DistanceFunc func(a, b []float64) float64

// SquaredEuclidean is the default distance.
func SquaredEuclidean(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

// Manhattan is the L1 distance.
func Manhattan(a, b []float64) float64 {
	return floats.Distance(a, b, 1)
}

// Engine runs k-means.
type Engine struct {
	cfg      clustering.Config
	distance DistanceFunc
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the shared settings.
func WithConfig(cfg clustering.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithClusters sets the number of clusters.
func WithClusters(k int) Option {
	return func(e *Engine) {
		e.cfg.Clusters = k
	}
}

// WithRuns sets the number of independent runs.
func WithRuns(n int) Option {
	return func(e *Engine) {
		e.cfg.Runs = n
	}
}

// WithSeed sets the seed of the first run.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.cfg.Seed = seed
	}
}

// WithMaxIterations caps the number of Lloyd iterations of a run.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		e.cfg.MaxIterations = n
	}
}

// WithWorkers bounds the number of concurrent runs.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.cfg.Workers = n
	}
}

// WithRunSummaries keeps a summary of every run in the result.
func WithRunSummaries(collect bool) Option {
	return func(e *Engine) {
		e.cfg.CollectRuns = collect
	}
}

// WithDistance replaces the distance function.
func WithDistance(d DistanceFunc) Option {
	return func(e *Engine) {
		e.distance = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:      clustering.DefaultConfig(),
		distance: SquaredEuclidean,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func fromSpec(spec clustering.Spec) (clustering.Clusterer, error) {
	if spec.Initial != nil {
		return nil, clustering.Configf("%s does not support an initial partition", Name)
	}

	opts := []Option{WithConfig(spec.Config), WithLogger(spec.Logger)}
	for key, v := range spec.Tuning {
		switch key {
		case "manhattan":
			if v != 0 {
				opts = append(opts, WithDistance(Manhattan))
			}
		default:
			return nil, clustering.Configf("unknown %s setting %q", Name, key)
		}
	}

	return New(opts...), nil
}

// Cluster partitions the rows of m. NaN cells are read as zero.
func (e *Engine) Cluster(ctx context.Context, m matrix.Matrix) (*clustering.Result, error) {
	n := m.Rows()
	points := make([][]float64, n)
	for i := range points {
		row := make([]float64, n)
		for j := range row {
			if v := m.At(i, j); matrix.IsValid(v) {
				row[j] = v
			}
		}
		points[i] = row
	}
	return e.ClusterPoints(ctx, points)
}

type runResult struct {
	labels  []int
	scores  []float64
	summary clustering.RunSummary
}

// ClusterPoints partitions points. The result's Score and ClusterScores
// hold total distances to the centroids; lower is better.
func (e *Engine) ClusterPoints(ctx context.Context, points [][]float64) (*clustering.Result, error) {
	if err := e.validate(points); err != nil {
		return nil, err
	}

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]*runResult, e.cfg.Runs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for r := 0; r < e.cfg.Runs; r++ {
		g.Go(func() error {
			res, err := e.run(gctx, points, r)
			if err != nil {
				return err
			}
			results[r] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := results[0]
	runs := make([]clustering.RunSummary, 0, len(results))
	for _, res := range results {
		runs = append(runs, res.summary)
		if res.summary.Score < best.summary.Score {
			best = res
		}
	}

	out := clustering.NewResult(best.labels, e.cfg.Clusters)
	copy(out.ClusterScores, best.scores)
	out.Score = best.summary.Score
	out.BestRun = best.summary.Run
	if e.cfg.CollectRuns {
		out.Runs = runs
	}

	e.logger.Info("clustering finished",
		zap.Int("points", len(points)),
		zap.Int("clusters", e.cfg.Clusters),
		zap.Int("runs", len(runs)),
		zap.Int("best_run", out.BestRun),
		zap.Float64("distance", out.Score),
	)

	return out, nil
}

func (e *Engine) validate(points [][]float64) error {
	n := len(points)
	if n < matrix.MinRows {
		return clustering.Configf("%d points, need at least %d", n, matrix.MinRows)
	}
	if k := e.cfg.Clusters; k < 2 || k > n-1 {
		return clustering.Configf("cluster count %d outside [2, %d]", k, n-1)
	}
	if e.cfg.Runs < 1 {
		return clustering.Configf("run count %d, need at least 1", e.cfg.Runs)
	}
	if e.distance == nil {
		return clustering.Configf("no distance function")
	}
	dim := len(points[0])
	if dim == 0 {
		return clustering.Configf("points have no coordinates")
	}
	for i, p := range points {
		if len(p) != dim {
			return clustering.Configf("point %d has %d coordinates, want %d", i, len(p), dim)
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, points [][]float64, r int) (*runResult, error) {
	start := time.Now()
	seed := e.cfg.Seed + int64(r)
	rng := rand.New(rand.NewSource(seed))

	k := e.cfg.Clusters
	maxIter := e.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	centroids := make([][]float64, k)
	for c, i := range rng.Perm(len(points))[:k] {
		centroids[c] = append([]float64(nil), points[i]...)
	}

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	converged := false
	iter := 0
	for iter < maxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iter++
		if !e.assign(points, centroids, labels) {
			converged = true
			break
		}
		updateCentroids(points, labels, centroids)
	}
	if !converged {
		// The last update moved the centroids after the labels were set.
		e.assign(points, centroids, labels)
	}

	scores := make([]float64, k)
	total := 0.0
	for i, c := range labels {
		d := e.distance(points[i], centroids[c])
		scores[c] += d
		total += d
	}

	summary := clustering.RunSummary{
		Run:       r,
		Seed:      seed,
		Score:     total,
		Trials:    iter,
		Elapsed:   time.Since(start),
		Converged: converged,
	}

	runsTotal.WithLabelValues(fmt.Sprint(converged)).Inc()
	iterationsTotal.Add(float64(iter))

	e.logger.Debug("run finished",
		zap.Int("run", r),
		zap.Int64("seed", seed),
		zap.Float64("distance", total),
		zap.Int("iterations", iter),
		zap.Bool("converged", converged),
	)

	return &runResult{labels: labels, scores: scores, summary: summary}, nil
}

// assign moves every point to its nearest centroid, ties to the lowest
// index, and reports whether any label changed.
func (e *Engine) assign(points, centroids [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		best, bestDist := 0, math.Inf(1)
		for c, centroid := range centroids {
			if d := e.distance(p, centroid); d < bestDist {
				best, bestDist = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// updateCentroids moves every centroid to the mean of its members. Empty
// clusters keep their centroid.
func updateCentroids(points [][]float64, labels []int, centroids [][]float64) {
	sizes := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, len(centroids[c]))
	}
	for i, c := range labels {
		floats.Add(sums[c], points[i])
		sizes[c]++
	}
	for c, size := range sizes {
		if size == 0 {
			continue
		}
		floats.Scale(1/float64(size), sums[c])
		centroids[c] = sums[c]
	}
}
