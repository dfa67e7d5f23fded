// Package config loads the settings of the logclust command from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/logclust/pkg/clustering"
	"github.com/hed1ad/logclust/pkg/clustering/iclust"
	"github.com/hed1ad/logclust/pkg/clustering/kmeans"
	"github.com/hed1ad/logclust/pkg/mutualinfo"
)

var validate = validator.New()

// Config is the top-level configuration.
type Config struct {
	// Algorithm names the clustering engine.
	Algorithm string `yaml:"algorithm" validate:"required,oneof=iclust kmeans"`

	Clustering clustering.Config `yaml:"clustering"`
	IClust     IClustConfig      `yaml:"iclust"`
	KMeans     KMeansConfig      `yaml:"kmeans"`
	MutualInfo MutualInfoConfig  `yaml:"mutual_info"`
	Output     OutputConfig      `yaml:"output"`
}

// IClustConfig holds the IClust-specific settings.
type IClustConfig struct {
	Alpha              float64 `yaml:"alpha" validate:"gte=0"`
	SingleElementScore float64 `yaml:"single_element_score"`
	MinClusterSize     int     `yaml:"min_cluster_size" validate:"min=0"`
	MaxIdleTrials      int     `yaml:"max_idle_trials" validate:"min=0"`
	EmptyClusters      bool    `yaml:"empty_clusters"`
	VerifyEpsilon      float64 `yaml:"verify_epsilon" validate:"gte=0"`
}

// KMeansConfig holds the k-means settings.
type KMeansConfig struct {
	Manhattan bool `yaml:"manhattan"`
}

// MutualInfoConfig holds the estimator settings.
type MutualInfoConfig struct {
	Smoothed   bool `yaml:"smoothed"`
	Resolution int  `yaml:"resolution" validate:"min=1"`
	// LegalIDs restricts the estimator to these ids. Empty means every id
	// seen in the input.
	LegalIDs []int `yaml:"legal_ids"`
	// Window is the interval length of packet captures.
	Window time.Duration `yaml:"window" validate:"gt=0"`
}

// OutputConfig holds report settings.
type OutputConfig struct {
	SummaryFormat string `yaml:"summary_format" validate:"oneof=text csv"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Algorithm:  iclust.Name,
		Clustering: clustering.DefaultConfig(),
		IClust: IClustConfig{
			SingleElementScore: 0.2,
			MinClusterSize:     1,
		},
		MutualInfo: MutualInfoConfig{
			Resolution: mutualinfo.DefaultResolution,
			Window:     time.Second,
		},
		Output: OutputConfig{
			SummaryFormat: "text",
		},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the struct tags. Failures wrap clustering.ErrConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", clustering.ErrConfig, err)
	}
	return nil
}

// Spec builds the registry request for the configured algorithm.
func (c Config) Spec(initial []int, logger *zap.Logger) clustering.Spec {
	spec := clustering.Spec{
		Config:  c.Clustering,
		Initial: initial,
		Logger:  logger,
		Tuning:  make(map[string]float64),
	}

	switch c.Algorithm {
	case iclust.Name:
		spec.Tuning["alpha"] = c.IClust.Alpha
		spec.Tuning["single_element_score"] = c.IClust.SingleElementScore
		spec.Tuning["min_cluster_size"] = float64(c.IClust.MinClusterSize)
		spec.Tuning["max_idle_trials"] = float64(c.IClust.MaxIdleTrials)
		spec.Tuning["empty_clusters"] = boolValue(c.IClust.EmptyClusters)
		if c.IClust.VerifyEpsilon > 0 {
			spec.Tuning["verify_epsilon"] = c.IClust.VerifyEpsilon
		}
	case kmeans.Name:
		spec.Tuning["manhattan"] = boolValue(c.KMeans.Manhattan)
	}

	return spec
}

// Estimator builds the configured mutual-information estimator.
func (c Config) Estimator(legal []int, logger *zap.Logger) *mutualinfo.Estimator {
	if len(c.MutualInfo.LegalIDs) > 0 {
		legal = c.MutualInfo.LegalIDs
	}
	opts := []mutualinfo.Option{mutualinfo.WithLogger(logger)}
	if c.MutualInfo.Smoothed {
		opts = append(opts, mutualinfo.WithResolution(c.MutualInfo.Resolution))
		return mutualinfo.NewSmoothed(legal, opts...)
	}
	return mutualinfo.New(legal, opts...)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
