package io

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/logclust/pkg/io/csv"
	"github.com/hed1ad/logclust/pkg/mutualinfo"
)

var _ IntervalReader = (*csv.Reader)(nil)

func bag(segment string, ids ...int) mutualinfo.Interval {
	iv := mutualinfo.Interval{Segment: segment}
	for _, id := range ids {
		iv.Messages = append(iv.Messages, mutualinfo.Message{ID: id, Count: 1})
	}
	return iv
}

func TestIntervalsIDs(t *testing.T) {
	s := Intervals{bag("a", 4, 2), bag("a", 2, 9), bag("b")}
	assert.Equal(t, []int{4, 2, 9}, s.IDs())
}

func TestEstimate(t *testing.T) {
	s := Intervals{bag("a", 1, 2), bag("a", 3), bag("a", 1, 2), bag("a", 3)}

	sim, err := Estimate(context.Background(), s, mutualinfo.New(s.IDs()))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, sim.Index.IDs())
	assert.InDelta(t, 1.0, sim.At(0, 1), 1e-12)
	assert.InDelta(t, -1.0, sim.At(0, 2), 1e-12)
}

func TestEstimateFromCSV(t *testing.T) {
	r, err := csv.NewReaderFrom(strings.NewReader("s,0,1\ns,0,2\ns,1,3\ns,2,1\ns,2,2\ns,3,3\n"), csv.WithHeader(false))
	require.NoError(t, err)
	defer r.Close()

	sim, err := Estimate(context.Background(), r, mutualinfo.New([]int{1, 2, 3}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim.At(0, 1), 1e-12)
	assert.Equal(t, 3, sim.Rows())
}

func TestEstimateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Estimate(ctx, Intervals{bag("a", 1)}, mutualinfo.New([]int{1}))
	assert.ErrorIs(t, err, context.Canceled)
}
