package mutualinfo

import (
	"math"
	"sort"
)

// DefaultResolution is the number of window offsets evaluated between two
// consecutive intervals.
const DefaultResolution = 1000

// span is the part of the unit interval in which a message occurs.
type span struct {
	first, last float64
}

// spanOf returns the first and last position of msg. Without a recorded
// timeline the occurrences are assumed to sit 0.5/√n away from both edges.
func spanOf(msg Message) span {
	if len(msg.Timeline) == 0 {
		n := msg.Count
		if n < 1 {
			n = 1
		}
		h := 0.5 / math.Sqrt(float64(n))
		return span{first: h, last: 1 - h}
	}

	s := span{first: msg.Timeline[0], last: msg.Timeline[0]}
	for _, p := range msg.Timeline[1:] {
		s.first = math.Min(s.first, p)
		s.last = math.Max(s.last, p)
	}
	s.first = clampUnit(s.first)
	s.last = clampUnit(s.last)
	return s
}

// smoother slides a unit-length window from the previous interval into the
// current one. At offset s in (0, 1] the window covers prev[s, 1) and
// cur[0, s); each of the resolution offsets contributes 1/resolution.
type smoother struct {
	resolution int
	prev       map[int]span
}

func newSmoother(resolution int) *smoother {
	return &smoother{resolution: resolution}
}

func (s *smoother) flush() {
	s.prev = nil
}

// steps holds a message's presence as at most two half-open ranges of
// window offsets: a prefix inherited from the previous interval and a suffix
// reached in the current one.
type steps struct {
	ranges [2][2]int
	n      int
}

func (st *steps) add(lo, hi int) {
	if lo >= hi {
		return
	}
	if st.n == 1 && lo <= st.ranges[0][1] {
		st.ranges[0][1] = max(st.ranges[0][1], hi)
		return
	}
	st.ranges[st.n] = [2]int{lo, hi}
	st.n++
}

func (st *steps) size() int {
	total := 0
	for k := 0; k < st.n; k++ {
		total += st.ranges[k][1] - st.ranges[k][0]
	}
	return total
}

func (st *steps) overlap(other *steps) int {
	total := 0
	for a := 0; a < st.n; a++ {
		for b := 0; b < other.n; b++ {
			lo := max(st.ranges[a][0], other.ranges[b][0])
			hi := min(st.ranges[a][1], other.ranges[b][1])
			if hi > lo {
				total += hi - lo
			}
		}
	}
	return total
}

func (s *smoother) add(co *CoOccurrence, present map[int]Message) {
	cur := make(map[int]span, len(present))
	for idx, msg := range present {
		cur[idx] = spanOf(msg)
	}

	if s.prev == nil {
		indices := sortedKeys(cur)
		for a, i := range indices {
			for _, j := range indices[a:] {
				co.counts.Add(i, j, 1)
			}
		}
		co.total++
		s.prev = cur
		return
	}

	r := s.resolution
	presence := make(map[int]*steps, len(cur)+len(s.prev))
	get := func(idx int) *steps {
		st, ok := presence[idx]
		if !ok {
			st = &steps{}
			presence[idx] = st
		}
		return st
	}

	// Offset k (0-based) stands for s = (k+1)/r. A message seen in prev is
	// inside the window while s <= last; one seen in cur once s > first.
	for idx, sp := range s.prev {
		a := int(math.Floor(sp.last * float64(r)))
		get(idx).add(0, min(a, r))
	}
	for idx, sp := range cur {
		b := int(math.Floor(sp.first * float64(r)))
		get(idx).add(max(b, 0), r)
	}

	weight := 1 / float64(r)
	indices := make([]int, 0, len(presence))
	for idx, st := range presence {
		if st.n > 0 {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)

	for a, i := range indices {
		co.counts.Add(i, i, float64(presence[i].size())*weight)
		for _, j := range indices[a+1:] {
			if ov := presence[i].overlap(presence[j]); ov > 0 {
				co.counts.Add(i, j, float64(ov)*weight)
			}
		}
	}
	co.total++
	s.prev = cur
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
