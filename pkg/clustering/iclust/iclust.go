// Package iclust implements IClust, a randomized local-search partition
// clustering over a symmetric similarity matrix.
//
// Each run starts from a random balanced partition (or caller-supplied
// labels) and repeatedly moves single elements to the cluster that improves
// the entropy-regularized score the most, until a full pass over the
// elements produces no move. The best of several independent runs wins.
package iclust

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/logclust/pkg/clustering"
	"github.com/hed1ad/logclust/pkg/matrix"
)

// Name is the registry name of the engine.
const Name = "iclust"

const (
	// DefaultTrialsPerElement sets the trial cap to this many trials per
	// element when no explicit cap is configured.
	DefaultTrialsPerElement = 1000

	// PerfectScore stops the remaining runs once a run reaches it.
	PerfectScore = 1.0

	// DefaultTolerance is the symmetry tolerance used to validate input.
	DefaultTolerance = 1e-9

	// cancelCheckInterval is the number of trials between context checks.
	cancelCheckInterval = 256
)

func init() {
	clustering.Register(Name, fromSpec)
}

// Engine runs IClust.
type Engine struct {
	cfg clustering.Config

	alpha          float64
	single         float64
	minClusterSize int
	allowEmpty     bool
	maxIdleTrials  int
	initial        []int
	verifyEpsilon  float64
	tolerance      float64

	logger *zap.Logger
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

// WithMaxTrials caps the number of trials of a run.
func WithMaxTrials(n int) Option {
	return func(e *Engine) {
		e.cfg.MaxIterations = n
	}
}

// WithMaxIdleTrials stops a run after n consecutive trials without a move.
// Zero or less means one full pass over the elements.
func WithMaxIdleTrials(n int) Option {
	return func(e *Engine) {
		e.maxIdleTrials = n
	}
}

// WithAlpha sets the weight of the cluster-size entropy term.
func WithAlpha(alpha float64) Option {
	return func(e *Engine) {
		e.alpha = alpha
	}
}

// WithSingleElementScore sets the score of clusters without a valid
// similarity pair. Singletons and emptied clusters included.
func WithSingleElementScore(s float64) Option {
	return func(e *Engine) {
		e.single = s
	}
}

// WithMinClusterSize forbids moves that shrink a cluster below n members.
func WithMinClusterSize(n int) Option {
	return func(e *Engine) {
		e.minClusterSize = n
	}
}

// WithEmptyClusters lets moves empty a cluster, ignoring the minimum size.
func WithEmptyClusters(allow bool) Option {
	return func(e *Engine) {
		e.allowEmpty = allow
	}
}

// WithInitialLabels starts every run from labels instead of a random split.
func WithInitialLabels(labels []int) Option {
	return func(e *Engine) {
		e.initial = append([]int(nil), labels...)
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

// WithVerify recomputes every run's final partition from scratch and fails
// the call if cached scores drifted by more than epsilon.
func WithVerify(epsilon float64) Option {
	return func(e *Engine) {
		e.verifyEpsilon = epsilon
	}
}

// WithTolerance sets the symmetry tolerance used to validate the input.
func WithTolerance(tol float64) Option {
	return func(e *Engine) {
		e.tolerance = tol
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
		cfg:            clustering.DefaultConfig(),
		minClusterSize: 1,
		tolerance:      DefaultTolerance,
		logger:         zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func fromSpec(spec clustering.Spec) (clustering.Clusterer, error) {
	opts := []Option{WithConfig(spec.Config), WithLogger(spec.Logger)}
	if spec.Initial != nil {
		opts = append(opts, WithInitialLabels(spec.Initial))
	}

	for key, v := range spec.Tuning {
		switch key {
		case "alpha":
			opts = append(opts, WithAlpha(v))
		case "single_element_score":
			opts = append(opts, WithSingleElementScore(v))
		case "min_cluster_size":
			opts = append(opts, WithMinClusterSize(int(v)))
		case "max_idle_trials":
			opts = append(opts, WithMaxIdleTrials(int(v)))
		case "empty_clusters":
			opts = append(opts, WithEmptyClusters(v != 0))
		case "verify_epsilon":
			opts = append(opts, WithVerify(v))
		default:
			return nil, clustering.Configf("unknown %s setting %q", Name, key)
		}
	}

	return New(opts...), nil
}

// runResult is the outcome of one run.
type runResult struct {
	partition *Partition
	summary   clustering.RunSummary
}

// Cluster runs the configured number of independent runs over sim and
// returns the best partition. Runs execute concurrently; the choice of the
// winner depends only on the seed.
func (e *Engine) Cluster(ctx context.Context, sim matrix.Matrix) (*clustering.Result, error) {
	best, runs, err := e.cluster(ctx, sim)
	if err != nil {
		return nil, err
	}

	res := best.partition.Result(e.alpha)
	res.BestRun = best.summary.Run
	if e.cfg.CollectRuns {
		res.Runs = runs
	}
	return res, nil
}

func (e *Engine) validate(sim matrix.Matrix) error {
	n := sim.Rows()
	if n < matrix.MinRows {
		return clustering.Configf("%d elements, need at least %d", n, matrix.MinRows)
	}
	if k := e.cfg.Clusters; k < 2 || k > n-1 {
		return clustering.Configf("cluster count %d outside [2, %d]", k, n-1)
	}
	if e.cfg.Runs < 1 {
		return clustering.Configf("run count %d, need at least 1", e.cfg.Runs)
	}
	if e.initial != nil && len(e.initial) != n {
		return clustering.Configf("initial partition has %d labels for %d elements", len(e.initial), n)
	}
	if err := matrix.Validate(sim, e.tolerance); err != nil {
		return fmt.Errorf("%w: %w", clustering.ErrConfig, err)
	}
	return nil
}

func (e *Engine) cluster(ctx context.Context, sim matrix.Matrix) (*runResult, []clustering.RunSummary, error) {
	if err := e.validate(sim); err != nil {
		return nil, nil, err
	}

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// stop holds the lowest run index that reached a perfect score. Runs
	// after it are skipped; runs before it always complete, which keeps the
	// winner independent of scheduling.
	var stop atomic.Int64
	stop.Store(math.MaxInt64)

	results := make([]*runResult, e.cfg.Runs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for r := 0; r < e.cfg.Runs; r++ {
		if int64(r) > stop.Load() {
			break
		}
		g.Go(func() error {
			res, err := e.run(gctx, sim, r, &stop)
			if err != nil || res == nil {
				return err
			}
			results[r] = res
			if res.summary.Score >= PerfectScore {
				lowerStop(&stop, int64(r))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var best *runResult
	var runs []clustering.RunSummary
	last := stop.Load()
	for r, res := range results {
		if int64(r) > last || res == nil {
			continue
		}
		runs = append(runs, res.summary)
		if best == nil || res.summary.Score > best.summary.Score {
			best = res
		}
	}
	if best == nil {
		return nil, nil, clustering.Internalf("no run completed")
	}

	bestScore.Set(best.summary.Score)
	e.logger.Info("clustering finished",
		zap.Int("elements", sim.Rows()),
		zap.Int("clusters", best.partition.NumClusters()),
		zap.Int("runs", len(runs)),
		zap.Int("best_run", best.summary.Run),
		zap.Float64("score", best.summary.Score),
	)

	return best, runs, nil
}

func lowerStop(stop *atomic.Int64, r int64) {
	for {
		cur := stop.Load()
		if r >= cur || stop.CompareAndSwap(cur, r) {
			return
		}
	}
}

func (e *Engine) newPartition(sim matrix.Matrix, rng *rand.Rand) (*Partition, error) {
	if e.initial != nil {
		return NewPartitionFromLabels(sim, e.initial, e.cfg.Clusters, e.single)
	}
	return NewRandomPartition(sim, e.cfg.Clusters, e.single, rng), nil
}

// run executes one independent run. It returns nil without error when the
// run was skipped because an earlier run already reached a perfect score.
func (e *Engine) run(ctx context.Context, sim matrix.Matrix, r int, stop *atomic.Int64) (*runResult, error) {
	start := time.Now()
	seed := e.cfg.Seed + int64(r)
	rng := rand.New(rand.NewSource(seed))

	p, err := e.newPartition(sim, rng)
	if err != nil {
		return nil, err
	}

	n := p.Len()
	maxTrials := e.cfg.MaxIterations
	if maxTrials <= 0 {
		maxTrials = DefaultTrialsPerElement * n
	}
	maxIdle := e.maxIdleTrials
	if maxIdle <= 0 {
		maxIdle = n
	}

	s := newSearch(p, rng, e.alpha, e.minClusterSize, e.allowEmpty)

	converged := false
	for {
		if s.trials >= maxTrials {
			break
		}
		if s.cursor >= n || s.idle >= maxIdle {
			converged = true
			break
		}
		if s.trials%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if int64(r) > stop.Load() {
				return nil, nil
			}
		}
		if err := s.step(); err != nil {
			return nil, err
		}
	}

	if e.verifyEpsilon > 0 {
		drift, err := p.RefreshAndVerify(e.verifyEpsilon)
		if err != nil {
			e.logger.Warn("partition scores drifted",
				zap.Int("run", r),
				zap.Float64("drift", drift),
				zap.Float64("epsilon", e.verifyEpsilon),
			)
			return nil, err
		}
	}

	summary := clustering.RunSummary{
		Run:        r,
		Seed:       seed,
		Score:      p.Score(e.alpha),
		Trials:     s.trials,
		IdleTrials: s.idle,
		Elapsed:    time.Since(start),
		Converged:  converged,
	}

	runsTotal.WithLabelValues(fmt.Sprint(converged)).Inc()
	trialsTotal.Add(float64(s.trials))
	movesTotal.Add(float64(s.moves))
	runDuration.Observe(summary.Elapsed.Seconds())

	e.logger.Debug("run finished",
		zap.Int("run", r),
		zap.Int64("seed", seed),
		zap.Float64("score", summary.Score),
		zap.Int("trials", s.trials),
		zap.Int("moves", s.moves),
		zap.Bool("converged", converged),
		zap.Duration("elapsed", summary.Elapsed),
	)

	return &runResult{partition: p, summary: summary}, nil
}
