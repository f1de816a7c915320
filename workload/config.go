package workload

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig is returned by Validate for unusable configurations.
var ErrInvalidConfig = errors.New("invalid workload config")

// Config describes a single benchmark run.
type Config struct {
	Strategy    string        `yaml:"strategy"`
	Readers     int           `yaml:"readers"`
	Writers     int           `yaml:"writers"`
	Duration    time.Duration `yaml:"duration"`
	ReadHold    time.Duration `yaml:"read_hold"`
	WriteHold   time.Duration `yaml:"write_hold"`
	WriterPause time.Duration `yaml:"writer_pause"`
}

// DefaultConfig mirrors the classic starvation setup: a crowd of readers and
// a couple of writers that come back periodically.
func DefaultConfig() Config {
	return Config{
		Strategy:    StrategyFair,
		Readers:     100,
		Writers:     2,
		Duration:    10 * time.Second,
		ReadHold:    10 * time.Millisecond,
		WriteHold:   10 * time.Millisecond,
		WriterPause: 50 * time.Millisecond,
	}
}

// LoadConfig reads a YAML config from path on top of DefaultConfig.
// An empty file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg can be run.
func (cfg Config) Validate() error {
	switch {
	case !knownStrategy(cfg.Strategy):
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, cfg.Strategy)
	case cfg.Readers < 0 || cfg.Writers < 0:
		return fmt.Errorf("%w: negative worker count", ErrInvalidConfig)
	case cfg.Readers+cfg.Writers == 0:
		return fmt.Errorf("%w: no workers", ErrInvalidConfig)
	case cfg.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidConfig)
	case cfg.ReadHold < 0 || cfg.WriteHold < 0 || cfg.WriterPause < 0:
		return fmt.Errorf("%w: negative delay", ErrInvalidConfig)
	}
	return nil
}
