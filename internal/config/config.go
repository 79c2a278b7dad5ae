package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBatchSize          = 10
	DefaultMaxWorkers         = 4
	DefaultBatchTimeout       = 300
	DefaultMaxRollbackHistory = 10
	DefaultPostPromoteTimeout = 120

	DefaultSchemaSuccessThreshold = 1.0
	DefaultFeedSuccessThreshold   = 1.0
	DefaultSocialFailureThreshold = 0.1
)

// Config is the immutable deployment-pipeline configuration.
// It is created once per invocation and passed by reference; nothing
// mutates it after Load returns.
type Config struct {
	// Batch generation
	BatchSize            int `yaml:"batch_size"`
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers"`
	BatchTimeoutSeconds  int `yaml:"batch_timeout_seconds"`

	// Directory roots
	StagingRoot    string `yaml:"staging_root"`
	ProductionRoot string `yaml:"production_root"`
	BackupRoot     string `yaml:"backup_root"`

	// Rollback retention: history entries and on-disk backups are both
	// capped at this count, oldest pruned first.
	MaxRollbackHistory int `yaml:"max_rollback_history"`

	// Validation gate thresholds. HTML and link gates are absolute
	// failure counts; schema, feed and social gates are rates in [0, 1].
	HTMLParseFailureThreshold int     `yaml:"html_parse_failure_threshold"`
	SchemaSuccessThreshold    float64 `yaml:"schema_success_threshold"`
	BrokenLinkThreshold       int     `yaml:"broken_link_threshold"`
	FeedSuccessThreshold      float64 `yaml:"feed_success_threshold"`
	SocialFailureThreshold    float64 `yaml:"social_failure_threshold"`

	// Social validation toggles
	EnableSocialValidation bool `yaml:"enable_social_validation"`
	SocialStrictMode       bool `yaml:"social_strict_mode"`

	// Post-promote hook commands, run sequentially in the production
	// directory after a successful promotion. Each entry is a string or
	// a list of arguments.
	PostPromote        []interface{} `yaml:"post_promote"`
	PostPromoteTimeout int           `yaml:"post_promote_timeout_seconds"`
}

// Default returns a configuration with every tunable at its default.
// Directory roots are left empty; Load and callers must set them.
func Default() Config {
	return Config{
		BatchSize:              DefaultBatchSize,
		MaxConcurrentWorkers:   DefaultMaxWorkers,
		BatchTimeoutSeconds:    DefaultBatchTimeout,
		MaxRollbackHistory:     DefaultMaxRollbackHistory,
		SchemaSuccessThreshold: DefaultSchemaSuccessThreshold,
		FeedSuccessThreshold:   DefaultFeedSuccessThreshold,
		SocialFailureThreshold: DefaultSocialFailureThreshold,
		EnableSocialValidation: true,
		PostPromoteTimeout:     DefaultPostPromoteTimeout,
	}
}

// Load reads a YAML configuration file, applies defaults for omitted
// fields, and validates the result. Validation problems are joined into
// a single descriptive error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	applyDefaults(&cfg)

	if problems := Validate(cfg); len(problems) > 0 {
		return Config{}, fmt.Errorf("invalid configuration in %s:\n%s",
			path, strings.Join(problems, "\n"))
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxConcurrentWorkers == 0 {
		cfg.MaxConcurrentWorkers = DefaultMaxWorkers
	}
	if cfg.BatchTimeoutSeconds == 0 {
		cfg.BatchTimeoutSeconds = DefaultBatchTimeout
	}
	if cfg.MaxRollbackHistory == 0 {
		cfg.MaxRollbackHistory = DefaultMaxRollbackHistory
	}
	if cfg.PostPromoteTimeout == 0 {
		cfg.PostPromoteTimeout = DefaultPostPromoteTimeout
	}
}

// Validate checks a configuration and returns a list of human-readable
// problems. It is a pure function and never returns an error for
// expected misconfiguration; an empty list means the config is usable.
func Validate(cfg Config) []string {
	var problems []string

	if cfg.BatchSize < 1 {
		problems = append(problems, fmt.Sprintf("  - batch_size must be at least 1, got %d", cfg.BatchSize))
	}
	if cfg.MaxConcurrentWorkers < 1 {
		problems = append(problems, fmt.Sprintf("  - max_concurrent_workers must be at least 1, got %d", cfg.MaxConcurrentWorkers))
	}
	if cfg.BatchTimeoutSeconds < 1 {
		problems = append(problems, fmt.Sprintf("  - batch_timeout_seconds must be positive, got %d", cfg.BatchTimeoutSeconds))
	}

	if cfg.StagingRoot == "" {
		problems = append(problems, "  - missing required 'staging_root'")
	}
	if cfg.ProductionRoot == "" {
		problems = append(problems, "  - missing required 'production_root'")
	}
	if cfg.BackupRoot == "" {
		problems = append(problems, "  - missing required 'backup_root'")
	}

	if cfg.MaxRollbackHistory < 1 {
		problems = append(problems, fmt.Sprintf("  - max_rollback_history must be at least 1, got %d", cfg.MaxRollbackHistory))
	}

	if cfg.HTMLParseFailureThreshold < 0 {
		problems = append(problems, fmt.Sprintf("  - html_parse_failure_threshold must be a non-negative count, got %d", cfg.HTMLParseFailureThreshold))
	}
	if cfg.BrokenLinkThreshold < 0 {
		problems = append(problems, fmt.Sprintf("  - broken_link_threshold must be a non-negative count, got %d", cfg.BrokenLinkThreshold))
	}

	// Rate thresholds are fractions; nothing upstream guarantees a caller
	// kept them in range, so enforce it here.
	for _, rt := range []struct {
		name  string
		value float64
	}{
		{"schema_success_threshold", cfg.SchemaSuccessThreshold},
		{"feed_success_threshold", cfg.FeedSuccessThreshold},
		{"social_failure_threshold", cfg.SocialFailureThreshold},
	} {
		if rt.value < 0.0 || rt.value > 1.0 {
			problems = append(problems, fmt.Sprintf("  - %s must be in [0.0, 1.0], got %g", rt.name, rt.value))
		}
	}

	if cfg.PostPromoteTimeout < 0 {
		problems = append(problems, fmt.Sprintf("  - post_promote_timeout_seconds must be non-negative, got %d", cfg.PostPromoteTimeout))
	}

	for i, cmd := range cfg.PostPromote {
		switch cmd.(type) {
		case string, []interface{}, []string:
			// Valid
		default:
			problems = append(problems, fmt.Sprintf("  - post_promote[%d] must be a string or list, got %T", i, cmd))
		}
	}

	return problems
}
