// Package config provides configuration management.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"medbill-verify/core/engine"
	"medbill-verify/core/matching"
	"medbill-verify/core/normalize"
	"medbill-verify/core/oracle"
	"medbill-verify/core/scoring"
	"medbill-verify/internal/errors"
	"medbill-verify/internal/logging"
	"medbill-verify/internal/metrics"
)

// EnvPrefix prefixes environment overrides, e.g. MEDBILL_ORACLE_ENABLED
const EnvPrefix = "MEDBILL"

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version" mapstructure:"version"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging" mapstructure:"logging"`

	// Matching contains the category and item thresholds
	Matching matching.Config `json:"matching" mapstructure:"matching"`

	// Weights are the hybrid score weights
	Weights scoring.Weights `json:"weights" mapstructure:"weights"`

	// Oracle configures borderline arbitration
	Oracle oracle.Config `json:"oracle" mapstructure:"oracle"`

	// Embedding selects the similarity scorer
	Embedding scoring.EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Cache configures the shared oracle decision cache
	Cache oracle.RedisConfig `json:"cache" mapstructure:"cache"`

	// Normalizer extends the artifact and package keyword sets
	Normalizer normalize.Options `json:"normalizer" mapstructure:"normalizer"`

	// Metrics contains metrics export settings
	Metrics metrics.Config `json:"metrics" mapstructure:"metrics"`

	// PolicyFile is an optional HCL file of category policies
	PolicyFile string `json:"policy_file" mapstructure:"policy_file"`

	// Output contains output-related settings
	Output OutputConfig `json:"output" mapstructure:"output"`
}

// OutputConfig contains output-related settings
type OutputConfig struct {
	// Format is json or table
	Format string `json:"format" mapstructure:"format"`

	// View is final, debug or both
	View string `json:"view" mapstructure:"view"`
}

// Default returns a default configuration
func Default() *Config {
	ec := engine.DefaultConfig()
	return &Config{
		Version:    "1.0",
		Logging:    logging.DefaultConfig(),
		Matching:   ec.Matching,
		Weights:    ec.Weights,
		Oracle:     ec.Oracle,
		Embedding:  ec.Embedding,
		Cache:      oracle.DefaultRedisConfig(),
		Normalizer: ec.Normalizer,
		Metrics:    metrics.Config{},
		Output: OutputConfig{
			Format: "table",
			View:   "final",
		},
	}
}

// Engine returns the engine section of the configuration
func (c *Config) Engine() engine.Config {
	return engine.Config{
		Matching:   c.Matching,
		Weights:    c.Weights,
		Embedding:  c.Embedding,
		Oracle:     c.Oracle,
		Normalizer: c.Normalizer,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := c.Engine().Validate(); err != nil {
		return errors.Wrap(errors.TypeConfig, "invalid configuration", err)
	}
	if c.Oracle.MinConfidence < 0 || c.Oracle.MinConfidence > 1 {
		return errors.Config("oracle.min_confidence must be within [0,1]")
	}
	switch c.Oracle.Runtime {
	case oracle.RuntimeOllama, oracle.RuntimeVLLM:
	default:
		return errors.Config("oracle.runtime must be ollama or vllm")
	}
	switch c.Output.Format {
	case "json", "table":
	default:
		return errors.Config("output.format must be json or table")
	}
	switch c.Output.View {
	case "final", "debug", "both":
	default:
		return errors.Config("output.view must be final, debug or both")
	}
	return nil
}

// newViper returns a viper instance seeded with the defaults. Nested keys
// are overridable from the environment: matching.top_k is MEDBILL_MATCHING_TOP_K.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := json.Marshal(Default())
	if err != nil {
		return nil, errors.Internal("failed to encode default configuration", err)
	}
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, errors.Internal("failed to load default configuration", err)
	}
	// let the file extension pick the format of the user's file
	v.SetConfigType("")
	return v, nil
}

// Load loads configuration from a file of any format viper reads, applying
// MEDBILL_* environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, errors.Wrapf(errors.TypeConfig, err, "failed to read config file %s", path)
			}
		} else if !os.IsNotExist(statErr) {
			return nil, errors.Wrapf(errors.TypeConfig, statErr, "failed to stat config file %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.TypeConfig, "failed to decode configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is the per-user configuration file
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".medbill", "config.json")
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
