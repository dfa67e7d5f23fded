package iclust

import "math/rand"

// search is the mutable state of one run. It is owned by a single goroutine.
type search struct {
	p              *Partition
	rng            *rand.Rand
	alpha          float64
	minClusterSize int
	allowEmpty     bool

	// perm is drawn without replacement from perm[cursor:]. The cursor goes
	// back to 0 on every move, so cursor == len(perm) means a full pass
	// without a move.
	perm   []int
	cursor int

	trials int
	idle   int
	moves  int

	ties []int
}

func newSearch(p *Partition, rng *rand.Rand, alpha float64, minClusterSize int, allowEmpty bool) *search {
	return &search{
		p:              p,
		rng:            rng,
		alpha:          alpha,
		minClusterSize: minClusterSize,
		allowEmpty:     allowEmpty,
		perm:           rng.Perm(p.Len()),
		ties:           make([]int, 0, p.NumClusters()),
	}
}

// next swaps a random not-yet-settled element to the cursor and returns it.
func (s *search) next() int {
	j := s.cursor + s.rng.Intn(len(s.perm)-s.cursor)
	s.perm[s.cursor], s.perm[j] = s.perm[j], s.perm[s.cursor]
	return s.perm[s.cursor]
}

// step runs one trial.
func (s *search) step() error {
	e := s.next()
	s.trials++

	to, ok := s.evaluate(e)
	if !ok {
		s.idle++
		s.cursor++
		return nil
	}

	if err := s.p.Demote(e); err != nil {
		return err
	}
	if err := s.p.Accept(to, e); err != nil {
		return err
	}
	s.moves++
	s.idle = 0
	s.cursor = 0
	return nil
}

// evaluate returns the cluster e should move to, or false if staying is at
// least as good as every alternative. Ties between alternatives are broken
// uniformly at random; a tie with staying keeps e where it is.
func (s *search) evaluate(e int) (int, bool) {
	p := s.p
	src := p.ClusterOf(e)
	if !s.allowEmpty && p.Size(src)-1 < s.minClusterSize {
		return 0, false
	}

	n := float64(p.Len())
	best := -(p.RemoveDelta(e)/n + s.alpha*p.LeaveEntropyDelta(e))
	s.ties = s.ties[:0]

	for c := 0; c < p.NumClusters(); c++ {
		if c == src {
			continue
		}
		v := p.AddDelta(c, e)/n + s.alpha*p.JoinEntropyDelta(c)
		switch {
		case v > best:
			best = v
			s.ties = append(s.ties[:0], c)
		case v == best && len(s.ties) > 0:
			s.ties = append(s.ties, c)
		}
	}

	switch len(s.ties) {
	case 0:
		return 0, false
	case 1:
		return s.ties[0], true
	default:
		return s.ties[s.rng.Intn(len(s.ties))], true
	}
}
