// Package mutualinfo estimates signed pairwise mutual information between
// message ids from a stream of intervals.
//
// Counting happens on a CoOccurrence matrix. Finalize converts the counts in
// place and hands the same storage back as a Similarity, so code that needs
// finished values cannot accidentally read raw counts.
package mutualinfo

import (
	"errors"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/logclust/pkg/matrix"
)

var (
	// ErrNotFinalized is returned by Matrix before Finalize has run.
	ErrNotFinalized = errors.New("mutual information not finalized")
	// ErrFinalized is returned when intervals arrive after Finalize.
	ErrFinalized = errors.New("mutual information already finalized")
	// ErrConsumed is returned when a CoOccurrence is finalized twice.
	ErrConsumed = errors.New("co-occurrence counts already consumed")
)

// Message summarizes one message id inside an interval.
type Message struct {
	// ID is the internal message id.
	ID int
	// Count is the number of occurrences in the interval.
	Count int
	// Timeline holds the sorted fractional positions, in [0, 1), of the
	// occurrences within the interval. It may be empty.
	Timeline []float64
}

// Interval is one summarization interval of a stream.
type Interval struct {
	// Segment names the logical stream the interval belongs to. Consume
	// flushes the estimator when it changes.
	Segment  string
	Messages []Message
}

// CoOccurrence accumulates raw co-occurrence counts.
type CoOccurrence struct {
	counts *matrix.Symmetric
	index  *matrix.IndexMap
	total  float64
}

func newCoOccurrence() *CoOccurrence {
	return &CoOccurrence{
		counts: matrix.NewSymmetric(0),
		index:  matrix.NewIndexMap(),
	}
}

// Total returns the accumulated interval weight.
func (c *CoOccurrence) Total() float64 {
	return c.total
}

// Count returns the raw count for a pair of dense indices.
func (c *CoOccurrence) Count(i, j int) float64 {
	return c.counts.At(i, j)
}

func (c *CoOccurrence) indexOf(id int) int {
	idx := c.index.Add(id)
	if idx >= c.counts.Rows() {
		c.counts.Grow(idx + 1 - c.counts.Rows())
	}
	return idx
}

// Similarity holds finalized signed mutual information values.
type Similarity struct {
	*matrix.Symmetric
	// Index maps message ids to rows.
	Index *matrix.IndexMap
}

// Finalize converts the counts to signed mutual information. The receiver
// cannot be used afterwards.
func (c *CoOccurrence) Finalize() (*Similarity, error) {
	if c.counts == nil {
		return nil, ErrConsumed
	}

	m, t := c.counts, c.total
	n := m.Rows()

	// Off-diagonal cells read the raw diagonal counts, so the diagonal goes last.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m.Set(i, j, signedMI(m.At(i, j), m.At(i, i), m.At(j, j), t))
		}
	}
	for i := 0; i < n; i++ {
		cii := m.At(i, i)
		m.Set(i, i, signedMI(cii, cii, cii, t))
	}

	c.counts = nil
	return &Similarity{Symmetric: m, Index: c.index}, nil
}

// signedMI returns the mutual information in bits between two binary
// occurrence variables, signed by the determinant of their 2×2 table.
func signedMI(cij, cii, cjj, t float64) float64 {
	if t <= 0 {
		return math.NaN()
	}

	both := nonNegative(cij / t)
	onlyI := nonNegative((cii - cij) / t)
	onlyJ := nonNegative((cjj - cij) / t)
	neither := nonNegative((t - cii - cjj + cij) / t)

	pi := both + onlyI
	pj := both + onlyJ

	mi := entropyBits(pi, 1-pi) + entropyBits(pj, 1-pj) - entropyBits(both, onlyI, onlyJ, neither)
	if mi < 0 {
		mi = 0
	}

	if both*neither-onlyI*onlyJ < 0 {
		return -mi
	}
	return mi
}

func entropyBits(p ...float64) float64 {
	for i, v := range p {
		p[i] = nonNegative(v)
	}
	return stat.Entropy(p) / math.Ln2
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// Estimator streams intervals into co-occurrence counts and finalizes them
// into a Similarity. The zero value is not usable; see New and NewSmoothed.
type Estimator struct {
	legal  map[int]struct{}
	co     *CoOccurrence
	sim    *Similarity
	smooth *smoother
	logger *zap.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Estimator) {
		e.logger = l
	}
}

// WithResolution sets the number of timeline subdivisions used by the
// smoothed variant. It has no effect on the basic estimator.
func WithResolution(r int) Option {
	return func(e *Estimator) {
		if e.smooth != nil && r > 0 {
			e.smooth.resolution = r
		}
	}
}

// New returns a basic estimator. Ids outside legal are ignored.
func New(legal []int, opts ...Option) *Estimator {
	e := &Estimator{
		legal:  make(map[int]struct{}, len(legal)),
		co:     newCoOccurrence(),
		logger: zap.NewNop(),
	}
	for _, id := range legal {
		e.legal[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewSmoothed returns an estimator that treats consecutive intervals as
// overlapping on a continuous timeline.
func NewSmoothed(legal []int, opts ...Option) *Estimator {
	e := New(legal)
	e.smooth = newSmoother(DefaultResolution)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Estimator) variant() string {
	if e.smooth != nil {
		return "smoothed"
	}
	return "basic"
}

// Add accumulates one interval.
func (e *Estimator) Add(iv Interval) error {
	if e.co == nil {
		return ErrFinalized
	}

	present := make(map[int]Message, len(iv.Messages))
	ignored := 0
	for _, msg := range iv.Messages {
		if _, ok := e.legal[msg.ID]; !ok {
			ignored++
			continue
		}
		idx := e.co.indexOf(msg.ID)
		if prev, ok := present[idx]; ok {
			msg = mergeMessages(prev, msg)
		}
		present[idx] = msg
	}
	intervalsTotal.WithLabelValues(e.variant()).Inc()
	if ignored > 0 {
		ignoredIDsTotal.Add(float64(ignored))
	}

	if e.smooth != nil {
		e.smooth.add(e.co, present)
		return nil
	}

	indices := sortedKeys(present)
	for a, i := range indices {
		for _, j := range indices[a:] {
			e.co.counts.Add(i, j, 1)
		}
	}
	e.co.total++

	return nil
}

// Flush marks a stream separator. The smoothed variant forgets the previous
// interval; the basic estimator keeps no cross-interval state.
func (e *Estimator) Flush() {
	if e.smooth != nil {
		e.smooth.flush()
	}
}

// Finalize flushes pending state and converts the counts to signed mutual
// information.
func (e *Estimator) Finalize() (*Similarity, error) {
	if e.co == nil {
		return nil, ErrFinalized
	}
	e.Flush()

	total := e.co.total
	sim, err := e.co.Finalize()
	if err != nil {
		return nil, err
	}
	e.co = nil
	e.sim = sim

	e.logger.Debug("mutual information finalized",
		zap.String("variant", e.variant()),
		zap.Int("ids", sim.Rows()),
		zap.Float64("intervals", total),
	)
	return sim, nil
}

// Matrix returns the finalized similarity matrix.
func (e *Estimator) Matrix() (*Similarity, error) {
	if e.sim == nil {
		return nil, ErrNotFinalized
	}
	return e.sim, nil
}

// CoOccurrence exposes the counts accumulated so far. It returns nil after
// Finalize.
func (e *Estimator) CoOccurrence() *CoOccurrence {
	return e.co
}

func mergeMessages(a, b Message) Message {
	a.Count += b.Count
	if len(b.Timeline) > 0 {
		a.Timeline = append(append([]float64(nil), a.Timeline...), b.Timeline...)
	}
	return a
}
