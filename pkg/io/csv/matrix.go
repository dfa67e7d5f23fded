package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/hed1ad/logclust/pkg/matrix"
)

// ReadMatrix reads a square matrix written by WriteMatrix: a header row of
// message ids followed by one row of values per id. Empty cells are NaN.
func ReadMatrix(src io.Reader) (*matrix.Dense, *matrix.IndexMap, error) {
	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("matrix header: %w", err)
	}

	index := matrix.NewIndexMap()
	for col, field := range header {
		id, err := strconv.Atoi(field)
		if err != nil {
			return nil, nil, fmt.Errorf("matrix header column %d: %w", col, err)
		}
		if index.Add(id) != col {
			return nil, nil, fmt.Errorf("matrix header: duplicate id %d", id)
		}
	}

	n := index.Len()
	rows := make([][]float64, 0, n)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("matrix row %d: %w", len(rows), err)
		}

		values := make([]float64, len(record))
		for j, field := range record {
			if field == "" {
				values[j] = math.NaN()
				continue
			}
			if values[j], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, nil, fmt.Errorf("matrix cell (%d,%d): %w", len(rows), j, err)
			}
		}
		rows = append(rows, values)
	}

	if len(rows) != n {
		return nil, nil, fmt.Errorf("matrix has %d rows for %d ids", len(rows), n)
	}
	m, err := matrix.NewDenseFrom(rows)
	if err != nil {
		return nil, nil, err
	}
	return m, index, nil
}

// WriteMatrix writes m with ids as the header row. NaN cells are left
// empty.
func WriteMatrix(dst io.Writer, m matrix.Matrix, ids []int) error {
	n := m.Rows()
	if len(ids) != n {
		return fmt.Errorf("%d ids for %d rows", len(ids), n)
	}

	w := csv.NewWriter(dst)
	record := make([]string, n)
	for j, id := range ids {
		record[j] = strconv.Itoa(id)
	}
	if err := w.Write(record); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := m.At(i, j)
			if !matrix.IsValid(v) {
				record[j] = ""
				continue
			}
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
