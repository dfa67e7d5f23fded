// Package csv provides delimited-text reading and writing for intervals,
// similarity matrices and initial partitions.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/hed1ad/logclust/pkg/mutualinfo"
)

// Reader reads intervals from CSV rows of the form
//
//	segment,interval,message_id[,count[,positions]]
//
// where positions is a ';'-separated list of fractions in [0, 1).
// Consecutive rows with the same segment and interval form one interval.
type Reader struct {
	closer    io.Closer
	reader    *csv.Reader
	hasHeader bool
	headers   []string

	pending *row
	skipped int
	err     error
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// NewReader creates a new CSV reader.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := NewReaderFrom(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReaderFrom creates a reader over an already open source. Close does
// not close src.
func NewReaderFrom(src io.Reader, opts ...Option) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	r := &Reader{
		reader:    cr,
		hasHeader: true,
	}

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			return nil, err
		}
		r.headers = headers
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Skipped returns the number of malformed rows skipped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Err returns the error that ended the last Stream, if any.
func (r *Reader) Err() error {
	return r.err
}

// Read returns all intervals.
func (r *Reader) Read() ([]mutualinfo.Interval, error) {
	var out []mutualinfo.Interval

	for {
		iv, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}

	return out, nil
}

// Stream returns a channel of intervals for incremental processing.
func (r *Reader) Stream(ctx context.Context) (<-chan mutualinfo.Interval, error) {
	out := make(chan mutualinfo.Interval, 100)

	go func() {
		defer close(out)
		for {
			iv, err := r.next()
			if err == io.EOF {
				return
			}
			if err != nil {
				r.err = err
				return
			}

			select {
			case out <- iv:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

type row struct {
	segment  string
	interval string
	msg      mutualinfo.Message
}

// next groups rows into the next interval. It returns io.EOF once the
// source is exhausted.
func (r *Reader) next() (mutualinfo.Interval, error) {
	var (
		iv      mutualinfo.Interval
		current string
		started bool
	)

	if r.pending != nil {
		iv.Segment, current = r.pending.segment, r.pending.interval
		iv.Messages = append(iv.Messages, r.pending.msg)
		r.pending, started = nil, true
	}

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			if started {
				return iv, nil
			}
			return iv, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				r.skipped++
				continue // Skip malformed rows
			}
			return iv, err
		}

		rw, err := parseRow(record)
		if err != nil {
			r.skipped++
			continue
		}

		if !started {
			iv.Segment, current = rw.segment, rw.interval
			started = true
		} else if rw.segment != iv.Segment || rw.interval != current {
			r.pending = &rw
			return iv, nil
		}
		iv.Messages = append(iv.Messages, rw.msg)
	}
}

// parseRow converts one record to a row.
func parseRow(record []string) (row, error) {
	if len(record) < 3 {
		return row{}, errors.New("short row")
	}

	id, err := strconv.Atoi(record[2])
	if err != nil {
		return row{}, err
	}
	rw := row{
		segment:  record[0],
		interval: record[1],
		msg:      mutualinfo.Message{ID: id, Count: 1},
	}

	if len(record) > 4 && record[4] != "" {
		for _, field := range strings.Split(record[4], ";") {
			pos, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return row{}, err
			}
			if pos < 0 || pos >= 1 {
				return row{}, errors.New("position outside [0, 1)")
			}
			rw.msg.Timeline = append(rw.msg.Timeline, pos)
		}
		slices.Sort(rw.msg.Timeline)
		rw.msg.Count = len(rw.msg.Timeline)
	}

	if len(record) > 3 && record[3] != "" {
		count, err := strconv.Atoi(record[3])
		if err != nil {
			return row{}, err
		}
		if count < 1 {
			return row{}, errors.New("count must be positive")
		}
		rw.msg.Count = count
	}

	return rw, nil
}
