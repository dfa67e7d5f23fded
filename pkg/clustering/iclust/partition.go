package iclust

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/logclust/pkg/clustering"
	"github.com/hed1ad/logclust/pkg/matrix"
)

// candidate caches the similarity terms between one element and the current
// members of a cluster, the element itself excluded. The slot is cleared on
// every Accept and Demote that touches the cluster.
type candidate struct {
	id    int
	sum   float64
	n     int
	valid bool
}

// cluster tracks its members and the sum and count of valid similarities
// over all ordered member pairs, self pairs included.
type cluster struct {
	members []int
	sum     float64
	n       int
	score   float64
	cand    candidate
}

// Partition assigns N elements to K clusters and maintains the score of
// every cluster incrementally.
type Partition struct {
	sim         matrix.Matrix
	single      float64
	clusterOf   []int
	pos         []int
	clusters    []*cluster
	total       float64
	entropy     float64
	candidateOf int
}

func newPartition(sim matrix.Matrix, k int, single float64) *Partition {
	n := sim.Rows()
	p := &Partition{
		sim:         sim,
		single:      single,
		clusterOf:   make([]int, n),
		pos:         make([]int, n),
		clusters:    make([]*cluster, k),
		candidateOf: -1,
	}
	for c := range p.clusters {
		p.clusters[c] = &cluster{}
	}
	return p
}

// NewRandomPartition splits a shuffled element order evenly over k clusters.
func NewRandomPartition(sim matrix.Matrix, k int, single float64, rng *rand.Rand) *Partition {
	p := newPartition(sim, k, single)
	for i, e := range rng.Perm(sim.Rows()) {
		p.place(e, i%k)
	}
	p.recompute()
	return p
}

// NewPartitionFromLabels builds a partition from a label array. Labels are
// compacted to consecutive cluster ids in first-seen order; the partition
// gets at least k clusters, extra ones starting empty.
func NewPartitionFromLabels(sim matrix.Matrix, labels []int, k int, single float64) (*Partition, error) {
	n := sim.Rows()
	if len(labels) != n {
		return nil, clustering.Configf("initial partition has %d labels for %d elements", len(labels), n)
	}

	compact, distinct := CompactLabels(labels)
	p := newPartition(sim, max(k, distinct), single)
	for e, c := range compact {
		p.place(e, c)
	}
	p.recompute()
	return p, nil
}

// CompactLabels renumbers labels to 0..k-1 in first-seen order.
func CompactLabels(labels []int) ([]int, int) {
	ids := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		c, ok := ids[l]
		if !ok {
			c = len(ids)
			ids[l] = c
		}
		out[i] = c
	}
	return out, len(ids)
}

func (p *Partition) place(e, c int) {
	cl := p.clusters[c]
	p.clusterOf[e] = c
	p.pos[e] = len(cl.members)
	cl.members = append(cl.members, e)
}

// Len returns the number of elements.
func (p *Partition) Len() int {
	return len(p.clusterOf)
}

// NumClusters returns the number of clusters, empty ones included.
func (p *Partition) NumClusters() int {
	return len(p.clusters)
}

// ClusterOf returns the cluster of element e, or -1 while e is demoted.
func (p *Partition) ClusterOf(e int) int {
	return p.clusterOf[e]
}

// Members returns the members of cluster c in no particular order.
func (p *Partition) Members(c int) []int {
	return p.clusters[c].members
}

// Size returns the number of members of cluster c.
func (p *Partition) Size(c int) int {
	return len(p.clusters[c].members)
}

// SimilaritySum returns the sum and count of valid similarities over the
// ordered member pairs of cluster c.
func (p *Partition) SimilaritySum(c int) (float64, int) {
	cl := p.clusters[c]
	return cl.sum, cl.n
}

// ClusterScore returns the cached score of cluster c.
func (p *Partition) ClusterScore(c int) float64 {
	return p.clusters[c].score
}

// TotalScore returns the sum of all cluster scores.
func (p *Partition) TotalScore() float64 {
	return p.total
}

// Entropy returns the Shannon entropy, in bits, of the cluster size
// distribution.
func (p *Partition) Entropy() float64 {
	return p.entropy
}

// Score returns the regularized partition score.
func (p *Partition) Score(alpha float64) float64 {
	return p.total/float64(p.Len()) + alpha*p.entropy
}

// Labels returns a copy of the cluster index of every element.
func (p *Partition) Labels() []int {
	return append([]int(nil), p.clusterOf...)
}

// clusterScore is size times the average similarity. Empty clusters,
// singletons and clusters without a single valid pair score the configured
// constant instead.
func (p *Partition) clusterScore(size int, sum float64, n int) float64 {
	if size <= 1 || n == 0 {
		return p.single
	}
	return float64(size) * sum / float64(n)
}

// sizeTerm is one cluster's contribution to the partition entropy.
func (p *Partition) sizeTerm(size int) float64 {
	if size == 0 {
		return 0
	}
	q := float64(size) / float64(p.Len())
	return -q * math.Log2(q)
}

func (p *Partition) selfTerm(e int) (float64, int) {
	if v := p.sim.At(e, e); matrix.IsValid(v) {
		return v, 1
	}
	return 0, 0
}

// extraTerm returns the sum and count of valid similarities between e and
// the members of cluster c other than e.
func (p *Partition) extraTerm(c, e int) (float64, int) {
	cl := p.clusters[c]
	if cl.cand.valid && cl.cand.id == e {
		return cl.cand.sum, cl.cand.n
	}

	var sum float64
	var n int
	for _, j := range cl.members {
		if j == e {
			continue
		}
		if v := p.sim.At(e, j); matrix.IsValid(v) {
			sum += v
			n++
		}
	}
	cl.cand = candidate{id: e, sum: sum, n: n, valid: true}
	return sum, n
}

// AddDelta returns the change of cluster c's score if e joined it.
func (p *Partition) AddDelta(c, e int) float64 {
	cl := p.clusters[c]
	x, xn := p.extraTerm(c, e)
	d, dn := p.selfTerm(e)
	after := p.clusterScore(len(cl.members)+1, cl.sum+2*x+d, cl.n+2*xn+dn)
	return after - cl.score
}

// RemoveDelta returns the change of the score of e's cluster if e left it.
func (p *Partition) RemoveDelta(e int) float64 {
	c := p.clusterOf[e]
	cl := p.clusters[c]
	x, xn := p.extraTerm(c, e)
	d, dn := p.selfTerm(e)
	after := p.clusterScore(len(cl.members)-1, cl.sum-2*x-d, cl.n-2*xn-dn)
	return after - cl.score
}

// LeaveEntropyDelta returns the entropy change if e left its cluster.
func (p *Partition) LeaveEntropyDelta(e int) float64 {
	s := p.Size(p.clusterOf[e])
	return p.sizeTerm(s-1) - p.sizeTerm(s)
}

// JoinEntropyDelta returns the entropy change if cluster c gained a member.
func (p *Partition) JoinEntropyDelta(c int) float64 {
	s := p.Size(c)
	return p.sizeTerm(s+1) - p.sizeTerm(s)
}

// Demote removes e from its cluster and holds it as the pending candidate
// until Accept places it.
func (p *Partition) Demote(e int) error {
	if p.candidateOf >= 0 {
		return clustering.Internalf("demote %d while %d is still pending", e, p.candidateOf)
	}
	c := p.clusterOf[e]
	if c < 0 || c >= len(p.clusters) {
		return clustering.Internalf("element %d has cluster %d outside [0,%d)", e, c, len(p.clusters))
	}
	cl := p.clusters[c]
	if cl.members[p.pos[e]] != e {
		return clustering.Internalf("element %d not found in cluster %d", e, c)
	}

	x, xn := p.extraTerm(c, e)
	d, dn := p.selfTerm(e)
	size := len(cl.members)

	last := cl.members[size-1]
	cl.members[p.pos[e]] = last
	p.pos[last] = p.pos[e]
	cl.members = cl.members[:size-1]

	cl.sum -= 2*x + d
	cl.n -= 2*xn + dn
	p.rescore(cl, size-1)
	p.entropy += p.sizeTerm(size-1) - p.sizeTerm(size)
	cl.cand = candidate{}

	p.clusterOf[e] = -1
	p.candidateOf = e
	return nil
}

// Accept places the pending candidate e into cluster c. The join must have
// been evaluated with AddDelta first.
func (p *Partition) Accept(c, e int) error {
	if p.candidateOf != e {
		return clustering.Internalf("accept %d but pending candidate is %d", e, p.candidateOf)
	}
	if c < 0 || c >= len(p.clusters) {
		return clustering.Internalf("cluster %d outside [0,%d)", c, len(p.clusters))
	}
	cl := p.clusters[c]
	if !cl.cand.valid || cl.cand.id != e {
		return clustering.Internalf("no cached candidate entry for %d in cluster %d", e, c)
	}

	x, xn := cl.cand.sum, cl.cand.n
	d, dn := p.selfTerm(e)
	size := len(cl.members)

	p.place(e, c)
	cl.sum += 2*x + d
	cl.n += 2*xn + dn
	p.rescore(cl, size+1)
	p.entropy += p.sizeTerm(size+1) - p.sizeTerm(size)
	cl.cand = candidate{}

	p.candidateOf = -1
	return nil
}

// Move reassigns e to cluster c.
func (p *Partition) Move(e, c int) error {
	if p.clusterOf[e] == c {
		return nil
	}
	p.AddDelta(c, e)
	if err := p.Demote(e); err != nil {
		return err
	}
	return p.Accept(c, e)
}

func (p *Partition) rescore(cl *cluster, size int) {
	old := cl.score
	cl.score = p.clusterScore(size, cl.sum, cl.n)
	p.total += cl.score - old
}

// recompute rebuilds every cached value from the matrix.
func (p *Partition) recompute() {
	p.total = 0
	sizes := make([]float64, len(p.clusters))
	for c, cl := range p.clusters {
		cl.sum, cl.n = 0, 0
		for _, i := range cl.members {
			for _, j := range cl.members {
				if v := p.sim.At(i, j); matrix.IsValid(v) {
					cl.sum += v
					cl.n++
				}
			}
		}
		cl.score = p.clusterScore(len(cl.members), cl.sum, cl.n)
		cl.cand = candidate{}
		p.total += cl.score
		sizes[c] = float64(len(cl.members)) / float64(p.Len())
	}
	p.entropy = stat.Entropy(sizes) / math.Ln2
}

// RefreshAndVerify recomputes every cached sum from scratch and returns the
// largest deviation found. Bookkeeping mismatches, and deviations above
// epsilon, are reported as clustering.ErrInternal. The recomputed values
// replace the cached ones in either case.
func (p *Partition) RefreshAndVerify(epsilon float64) (float64, error) {
	if err := p.checkBookkeeping(); err != nil {
		return math.Inf(1), err
	}

	type snapshot struct {
		sum   float64
		n     int
		score float64
	}
	before := make([]snapshot, len(p.clusters))
	for c, cl := range p.clusters {
		before[c] = snapshot{cl.sum, cl.n, cl.score}
	}
	total, entropy := p.total, p.entropy

	p.recompute()

	drift := math.Max(math.Abs(total-p.total), math.Abs(entropy-p.entropy))
	for c, cl := range p.clusters {
		drift = math.Max(drift, math.Abs(before[c].sum-cl.sum))
		drift = math.Max(drift, math.Abs(before[c].score-cl.score))
		drift = math.Max(drift, math.Abs(float64(before[c].n-cl.n)))
	}

	if drift > epsilon {
		return drift, clustering.Internalf("cached scores drifted by %g (epsilon %g)", drift, epsilon)
	}
	return drift, nil
}

func (p *Partition) checkBookkeeping() error {
	if p.candidateOf >= 0 {
		return clustering.Internalf("element %d demoted but never accepted", p.candidateOf)
	}
	total := 0
	for c, cl := range p.clusters {
		total += len(cl.members)
		for k, e := range cl.members {
			if p.clusterOf[e] != c || p.pos[e] != k {
				return clustering.Internalf("element %d listed in cluster %d but mapped to %d", e, c, p.clusterOf[e])
			}
		}
	}
	if total != p.Len() {
		return clustering.Internalf("cluster sizes sum to %d, want %d", total, p.Len())
	}
	return nil
}

// Result converts the partition to a clustering.Result scored with alpha.
func (p *Partition) Result(alpha float64) *clustering.Result {
	r := clustering.NewResult(p.clusterOf, len(p.clusters))
	for c, cl := range p.clusters {
		r.ClusterScores[c] = cl.score
	}
	r.Score = p.Score(alpha)
	return r
}
