package csv

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/hed1ad/logclust/pkg/matrix"
)

// Unassigned names the cluster that collects elements no line lists.
const Unassigned = "unassigned"

// Partition is an initial partition aligned to a matrix index.
type Partition struct {
	// Labels holds the cluster of every matrix row.
	Labels []int
	// Names holds the name of every cluster.
	Names []string
	// Unassigned is the label of the Unassigned cluster, or -1.
	Unassigned int
}

// ReadLabels reads a tab-separated partition, one cluster per line: the
// cluster name followed by its member message ids. Ids missing from index
// and malformed ids are ignored; an id listed twice keeps its first cluster.
// Rows no line lists go to an extra cluster named Unassigned.
func ReadLabels(src io.Reader, index *matrix.IndexMap) (*Partition, error) {
	cr := csv.NewReader(src)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	labels := make([]int, index.Len())
	for i := range labels {
		labels[i] = -1
	}
	var names []string

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 || record[0] == "" {
			continue
		}

		c := len(names)
		names = append(names, record[0])
		for _, field := range record[1:] {
			id, err := strconv.Atoi(field)
			if err != nil {
				continue
			}
			idx, ok := index.Index(id)
			if !ok || labels[idx] >= 0 {
				continue
			}
			labels[idx] = c
		}
	}

	extra := -1
	for i, c := range labels {
		if c >= 0 {
			continue
		}
		if extra < 0 {
			extra = len(names)
			names = append(names, Unassigned)
		}
		labels[i] = extra
	}

	return &Partition{Labels: labels, Names: names, Unassigned: extra}, nil
}
