package iclust

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/logclust/pkg/clustering"
	"github.com/hed1ad/logclust/pkg/matrix"
)

func TestIncrementalScoreMatchesRecompute(t *testing.T) {
	sim := randomSimilarity(40, 0.1, 3)
	rng := rand.New(rand.NewSource(11))
	p := NewRandomPartition(sim, 5, 0.2, rng)

	for i := 0; i < 2000; i++ {
		e := rng.Intn(p.Len())
		c := rng.Intn(p.NumClusters())
		require.NoError(t, p.Move(e, c))
	}

	total, entropy := p.TotalScore(), p.Entropy()
	drift, err := p.RefreshAndVerify(1e-9)
	require.NoError(t, err)
	assert.LessOrEqual(t, drift, 1e-9)
	assert.InDelta(t, total, p.TotalScore(), 1e-9)
	assert.InDelta(t, entropy, p.Entropy(), 1e-9)
}

func TestPartitionCompleteness(t *testing.T) {
	for _, n := range []int{3, 7, 25} {
		sim := randomSimilarity(n, 0, int64(n))
		rng := rand.New(rand.NewSource(int64(n)))
		p := NewRandomPartition(sim, 3, 0, rng)

		for i := 0; i < 100; i++ {
			require.NoError(t, p.Move(rng.Intn(n), rng.Intn(3)))
		}

		seen := make([]int, n)
		total := 0
		for c := 0; c < p.NumClusters(); c++ {
			total += p.Size(c)
			for _, e := range p.Members(c) {
				seen[e]++
				assert.Equal(t, c, p.ClusterOf(e))
			}
		}
		assert.Equal(t, n, total)
		for e, count := range seen {
			assert.Equal(t, 1, count, "element %d", e)
		}
	}
}

func TestSimilaritySumExcludesNaN(t *testing.T) {
	sim := randomSimilarity(30, 0.3, 5)
	for i := 0; i < 30; i += 4 {
		sim.Set(i, i, math.NaN())
	}
	rng := rand.New(rand.NewSource(2))
	p := NewRandomPartition(sim, 4, 0.2, rng)
	for i := 0; i < 300; i++ {
		require.NoError(t, p.Move(rng.Intn(30), rng.Intn(4)))
	}

	for c := 0; c < p.NumClusters(); c++ {
		members := p.Members(c)
		offDiagonal, diagonal := 0, 0
		for a, i := range members {
			if matrix.IsValid(sim.At(i, i)) {
				diagonal++
			}
			for _, j := range members[a+1:] {
				if matrix.IsValid(sim.At(i, j)) {
					offDiagonal++
				}
			}
		}

		sum, n := p.SimilaritySum(c)
		assert.Equal(t, 2*offDiagonal+diagonal, n, "cluster %d", c)
		assert.False(t, math.IsNaN(sum))
	}
}

func TestCandidateCacheInvalidation(t *testing.T) {
	sim := blockSimilarity()
	p, err := NewPartitionFromLabels(sim, []int{0, 0, 1, 1, 1, 1}, 2, 0.2)
	require.NoError(t, err)

	p.AddDelta(0, 2)
	assert.True(t, p.clusters[0].cand.valid)
	assert.Equal(t, 2, p.clusters[0].cand.id)

	p.RemoveDelta(2)
	assert.True(t, p.clusters[1].cand.valid)

	require.NoError(t, p.Demote(2))
	assert.False(t, p.clusters[1].cand.valid)
	assert.True(t, p.clusters[0].cand.valid)

	require.NoError(t, p.Accept(0, 2))
	assert.False(t, p.clusters[0].cand.valid)

	// A cached entry for one element never answers for another.
	p.AddDelta(1, 3)
	before := p.clusters[1].cand
	p.AddDelta(1, 4)
	assert.NotEqual(t, before.id, p.clusters[1].cand.id)
}

func TestDemoteAcceptMisuse(t *testing.T) {
	sim := blockSimilarity()
	p, err := NewPartitionFromLabels(sim, []int{0, 0, 0, 1, 1, 1}, 2, 0.2)
	require.NoError(t, err)

	err = p.Demote(0)
	require.NoError(t, err)

	t.Run("second demote while pending", func(t *testing.T) {
		assert.ErrorIs(t, p.Demote(1), clustering.ErrInternal)
	})

	t.Run("accept without cached candidate", func(t *testing.T) {
		assert.ErrorIs(t, p.Accept(1, 0), clustering.ErrInternal)
	})

	t.Run("accept other element", func(t *testing.T) {
		p.AddDelta(1, 4)
		assert.ErrorIs(t, p.Accept(1, 4), clustering.ErrInternal)
	})

	t.Run("accept out of range", func(t *testing.T) {
		assert.ErrorIs(t, p.Accept(7, 0), clustering.ErrInternal)
	})

	t.Run("verify with pending candidate", func(t *testing.T) {
		_, err := p.RefreshAndVerify(1e-9)
		assert.ErrorIs(t, err, clustering.ErrInternal)
	})

	p.AddDelta(0, 0)
	require.NoError(t, p.Accept(0, 0))
	_, err = p.RefreshAndVerify(1e-9)
	assert.NoError(t, err)
}

func TestRefreshAndVerifyDetectsDrift(t *testing.T) {
	sim := blockSimilarity()
	p, err := NewPartitionFromLabels(sim, []int{0, 0, 0, 1, 1, 1}, 2, 0.2)
	require.NoError(t, err)

	p.clusters[1].sum += 0.5
	drift, err := p.RefreshAndVerify(1e-9)
	assert.ErrorIs(t, err, clustering.ErrInternal)
	assert.InDelta(t, 0.5, drift, 1e-12)

	drift, err = p.RefreshAndVerify(1e-9)
	assert.NoError(t, err)
	assert.Zero(t, drift)
}

func TestPartitionFromLabels(t *testing.T) {
	sim := randomSimilarity(5, 0, 1)

	tests := []struct {
		name         string
		labels       []int
		k            int
		wantClusters int
		wantLabels   []int
		wantErr      error
	}{
		{
			name:         "compacted in first-seen order",
			labels:       []int{7, 7, 3, 3, 9},
			k:            2,
			wantClusters: 3,
			wantLabels:   []int{0, 0, 1, 1, 2},
		},
		{
			name:         "extra empty clusters",
			labels:       []int{1, 1, 1, 2, 2},
			k:            4,
			wantClusters: 4,
			wantLabels:   []int{0, 0, 0, 1, 1},
		},
		{
			name:    "wrong length",
			labels:  []int{0, 1},
			k:       2,
			wantErr: clustering.ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPartitionFromLabels(sim, tt.labels, tt.k, 0.2)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantClusters, p.NumClusters())
			assert.Equal(t, tt.wantLabels, p.Labels())
		})
	}
}

func TestSingleElementScore(t *testing.T) {
	sim := blockSimilarity()
	p, err := NewPartitionFromLabels(sim, []int{0, 0, 0, 1, 1, 2}, 3, 0.2)
	require.NoError(t, err)

	assert.InDelta(t, 3*(3+6*0.9)/9, p.ClusterScore(0), 1e-12)
	assert.InDelta(t, 0.2, p.ClusterScore(2), 1e-12)

	// An emptied cluster keeps the constant.
	total := p.TotalScore()
	require.NoError(t, p.Move(5, 1))
	assert.Zero(t, p.Size(2))
	assert.InDelta(t, 0.2, p.ClusterScore(2), 1e-12)
	assert.InDelta(t, total-1.9+2.8, p.TotalScore(), 1e-12)

	drift, err := p.RefreshAndVerify(1e-9)
	require.NoError(t, err)
	assert.LessOrEqual(t, drift, 1e-9)
	assert.InDelta(t, 0.2, p.ClusterScore(2), 1e-12)
}

func TestSingleElementScoreWithoutValidPairs(t *testing.T) {
	sim := matrix.NewSymmetric(4)
	for i := 0; i < 4; i++ {
		for j := i; j < 4; j++ {
			sim.Set(i, j, 1)
		}
	}
	sim.Set(2, 2, math.NaN())
	sim.Set(3, 3, math.NaN())
	sim.Set(2, 3, math.NaN())

	p, err := NewPartitionFromLabels(sim, []int{0, 0, 1, 1}, 2, 0.2)
	require.NoError(t, err)

	sum, n := p.SimilaritySum(1)
	assert.Zero(t, sum)
	assert.Zero(t, n)
	assert.InDelta(t, 0.2, p.ClusterScore(1), 1e-12)
	assert.InDelta(t, 2.0, p.ClusterScore(0), 1e-12)

	// Leaving a singleton costs nothing when the source may be emptied.
	q, err := NewPartitionFromLabels(sim, []int{0, 0, 0, 1}, 2, 0.2)
	require.NoError(t, err)
	assert.Zero(t, q.RemoveDelta(3))
}

func TestEntropyTracksSizes(t *testing.T) {
	sim := blockSimilarity()
	p, err := NewPartitionFromLabels(sim, []int{0, 0, 0, 1, 1, 1}, 2, 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.Entropy(), 1e-12)

	delta := p.LeaveEntropyDelta(0) + p.JoinEntropyDelta(1)
	require.NoError(t, p.Move(0, 1))

	// Sizes 2 and 4 out of 6.
	want := -(1.0/3)*math.Log2(1.0/3) - (2.0/3)*math.Log2(2.0/3)
	assert.InDelta(t, want, p.Entropy(), 1e-12)
	assert.Less(t, delta, 0.0)
}

// blockSimilarity has two blocks {0,1,2} and {3,4,5}: 0.9 within, 0.1
// across, 1 on the diagonal.
func blockSimilarity() *matrix.Symmetric {
	s := matrix.NewSymmetric(6)
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			switch {
			case i == j:
				s.Set(i, j, 1)
			case i/3 == j/3:
				s.Set(i, j, 0.9)
			default:
				s.Set(i, j, 0.1)
			}
		}
	}
	return s
}

// randomSimilarity returns a valid similarity matrix with unit diagonal and
// a share of NaN off-diagonal cells.
func randomSimilarity(n int, nanRate float64, seed int64) *matrix.Symmetric {
	rng := rand.New(rand.NewSource(seed))
	s := matrix.NewSymmetric(n)
	for i := 0; i < n; i++ {
		s.Set(i, i, 1)
		for j := i + 1; j < n; j++ {
			if rng.Float64() < nanRate {
				s.Set(i, j, math.NaN())
				continue
			}
			s.Set(i, j, rng.Float64()*1.98-1)
		}
	}
	return s
}
