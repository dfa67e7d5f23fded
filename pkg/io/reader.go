// Package io provides input/output utilities for interval ingestion.
package io

import (
	"context"

	"github.com/hed1ad/logclust/pkg/mutualinfo"
)

// IntervalReader is the interface for reading message intervals from
// various sources.
type IntervalReader interface {
	// Read returns every interval of the source.
	Read() ([]mutualinfo.Interval, error)

	// Stream returns a channel of intervals for incremental estimation. The
	// channel is closed at the end of the source or when ctx is done.
	Stream(ctx context.Context) (<-chan mutualinfo.Interval, error)

	// Close releases resources.
	Close() error
}

// Estimate feeds every interval of r into e and finalizes it.
func Estimate(ctx context.Context, r IntervalReader, e *mutualinfo.Estimator) (*mutualinfo.Similarity, error) {
	in, err := r.Stream(ctx)
	if err != nil {
		return nil, err
	}
	if err := mutualinfo.Consume(ctx, e, in); err != nil {
		return nil, err
	}
	return e.Finalize()
}

// Intervals is an in-memory IntervalReader.
type Intervals []mutualinfo.Interval

// Read returns the intervals.
func (s Intervals) Read() ([]mutualinfo.Interval, error) {
	return s, nil
}

// Stream sends the intervals in order.
func (s Intervals) Stream(ctx context.Context) (<-chan mutualinfo.Interval, error) {
	out := make(chan mutualinfo.Interval, 100)

	go func() {
		defer close(out)
		for _, iv := range s {
			select {
			case out <- iv:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close is a no-op.
func (s Intervals) Close() error {
	return nil
}

// IDs returns the distinct message ids in first-seen order.
func (s Intervals) IDs() []int {
	seen := make(map[int]struct{})
	var ids []int
	for _, iv := range s {
		for _, msg := range iv.Messages {
			if _, ok := seen[msg.ID]; ok {
				continue
			}
			seen[msg.ID] = struct{}{}
			ids = append(ids, msg.ID)
		}
	}
	return ids
}
