package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hed1ad/logclust/pkg/clustering"
	"github.com/hed1ad/logclust/pkg/mutualinfo"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logclust.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "iclust", cfg.Algorithm)
	assert.Equal(t, 10, cfg.Clustering.Runs)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
algorithm: iclust
clustering:
  clusters: 12
  runs: 4
  seed: 99
  collect_runs: true
iclust:
  alpha: 0.1
  verify_epsilon: 1e-9
mutual_info:
  smoothed: true
  window: 500ms
  legal_ids: [3, 1, 2]
output:
  summary_format: csv
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Clustering.Clusters)
	assert.Equal(t, 4, cfg.Clustering.Runs)
	assert.Equal(t, int64(99), cfg.Clustering.Seed)
	assert.True(t, cfg.Clustering.CollectRuns)
	assert.Equal(t, 0.1, cfg.IClust.Alpha)
	assert.Equal(t, 0.2, cfg.IClust.SingleElementScore, "unset keys keep defaults")
	assert.True(t, cfg.MutualInfo.Smoothed)
	assert.Equal(t, 500*time.Millisecond, cfg.MutualInfo.Window)
	assert.Equal(t, []int{3, 1, 2}, cfg.MutualInfo.LegalIDs)
	assert.Equal(t, "csv", cfg.Output.SummaryFormat)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown algorithm", body: "algorithm: dbscan\n"},
		{name: "one cluster", body: "clustering:\n  clusters: 1\n"},
		{name: "no runs", body: "clustering:\n  runs: 0\n"},
		{name: "negative alpha", body: "iclust:\n  alpha: -1\n"},
		{name: "bad summary format", body: "output:\n  summary_format: xml\n"},
		{name: "zero window", body: "mutual_info:\n  window: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, clustering.ErrConfig)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "clustering: [1, 2\n"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, clustering.ErrConfig)
}

func TestSpec(t *testing.T) {
	cfg := Default()
	cfg.IClust.VerifyEpsilon = 1e-6

	spec := cfg.Spec([]int{0, 1}, zap.NewNop())
	assert.Equal(t, []int{0, 1}, spec.Initial)
	assert.Equal(t, cfg.Clustering, spec.Config)
	assert.Equal(t, map[string]float64{
		"alpha":                0,
		"single_element_score": 0.2,
		"min_cluster_size":     1,
		"max_idle_trials":      0,
		"empty_clusters":       0,
		"verify_epsilon":       1e-6,
	}, spec.Tuning)

	for _, algorithm := range []string{"iclust", "kmeans"} {
		cfg.Algorithm = algorithm
		_, err := clustering.New(algorithm, cfg.Spec(nil, nil))
		assert.NoError(t, err, algorithm)
	}
}

func TestEstimator(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg.Estimator([]int{1, 2}, zap.NewNop()))

	cfg.MutualInfo.Smoothed = true
	cfg.MutualInfo.LegalIDs = []int{5}
	e := cfg.Estimator([]int{1, 2}, zap.NewNop())
	require.NoError(t, e.Add(mutualinfo.Interval{Messages: []mutualinfo.Message{{ID: 1, Count: 1}, {ID: 5, Count: 1}}}))

	sim, err := e.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []int{5}, sim.Index.IDs())
}
