package matrix

// IndexMap maps external message ids to dense matrix indices. Indices are
// assigned in first-seen order starting at 0.
type IndexMap struct {
	index map[int]int
	ids   []int
}

// NewIndexMap returns an empty map.
func NewIndexMap() *IndexMap {
	return &IndexMap{index: make(map[int]int)}
}

// NewIndexMapFrom returns a map assigning ids[k] to index k. Duplicate ids
// keep their first index.
func NewIndexMapFrom(ids []int) *IndexMap {
	m := NewIndexMap()
	for _, id := range ids {
		m.Add(id)
	}
	return m
}

// Add returns the index of id, assigning the next free index if id has not
// been seen before.
func (m *IndexMap) Add(id int) int {
	if idx, ok := m.index[id]; ok {
		return idx
	}
	idx := len(m.ids)
	m.index[id] = idx
	m.ids = append(m.ids, id)
	return idx
}

// Index returns the index of id.
func (m *IndexMap) Index(id int) (int, bool) {
	idx, ok := m.index[id]
	return idx, ok
}

// ID returns the message id stored at idx.
func (m *IndexMap) ID(idx int) int {
	return m.ids[idx]
}

// IDs returns the message ids in index order.
func (m *IndexMap) IDs() []int {
	out := make([]int, len(m.ids))
	copy(out, m.ids)
	return out
}

// Len returns the number of mapped ids.
func (m *IndexMap) Len() int {
	return len(m.ids)
}
