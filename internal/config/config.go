// Package config loads and validates flywheel.yml, the optimizer daemon's
// configuration. Validation applies defaults and rejects insane targets at
// startup; the running service never sees an invalid configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when fields are omitted.
const (
	DefaultNoiseMultiplier    = 1.1
	DefaultSafetyInterval     = time.Hour
	DefaultAdjustmentInterval = time.Hour
	DefaultHealthAddr         = ":8080"
)

// FlywheelConfig represents the top-level flywheel.yml configuration.
type FlywheelConfig struct {
	Version     string            `yaml:"version"`
	Privacy     PrivacyConfig     `yaml:"privacy"`
	Economy     EconomyConfig     `yaml:"economy"`
	Experiments ExperimentsConfig `yaml:"experiments,omitempty"`
	Health      HealthConfig      `yaml:"health,omitempty"`
}

// PrivacyConfig bounds the analytics session's privacy budget.
type PrivacyConfig struct {
	EpsilonBudget   float64 `yaml:"epsilon_budget"`             // Total epsilon for the session; required, > 0
	NoiseMultiplier float64 `yaml:"noise_multiplier,omitempty"` // Gaussian calibration constant, default 1.1
}

// EconomyConfig configures the indicator targets and the adjustment cadence.
type EconomyConfig struct {
	AdjustmentInterval string                     `yaml:"adjustment_interval,omitempty"` // Go duration, default 1h
	Indicators         map[string]IndicatorConfig `yaml:"indicators"`
}

// IndicatorConfig is one indicator's setpoint and tolerance band.
type IndicatorConfig struct {
	Target    float64 `yaml:"target"`
	Tolerance float64 `yaml:"tolerance"`
}

// ExperimentsConfig configures experiment safety defaults.
type ExperimentsConfig struct {
	SafetyInterval       string  `yaml:"safety_interval,omitempty"`        // Go duration, default 1h
	TrustScoreFloor      float64 `yaml:"trust_score_floor,omitempty"`      // default 80
	EducationShareTarget float64 `yaml:"education_share_target,omitempty"` // default 0.5
	MaxRolloutPercent    float64 `yaml:"max_rollout_percent,omitempty"`    // default 50
}

// HealthConfig configures the health/metrics HTTP server.
type HealthConfig struct {
	Addr string `yaml:"addr,omitempty"` // default :8080
}

// The indicators every configuration must define.
var requiredIndicators = []string{
	"inflation_rate",
	"currency_velocity",
	"supply_ratio",
	"transaction_volume",
}

// Validate performs strict validation and applies defaults in place.
func (c *FlywheelConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Privacy.EpsilonBudget <= 0 {
		return fmt.Errorf("privacy.epsilon_budget must be positive, got %v", c.Privacy.EpsilonBudget)
	}
	if c.Privacy.NoiseMultiplier == 0 {
		c.Privacy.NoiseMultiplier = DefaultNoiseMultiplier
	}
	if c.Privacy.NoiseMultiplier <= 0 {
		return fmt.Errorf("privacy.noise_multiplier must be positive, got %v", c.Privacy.NoiseMultiplier)
	}

	if len(c.Economy.Indicators) == 0 {
		return fmt.Errorf("no economy indicators defined")
	}
	for _, name := range requiredIndicators {
		ind, ok := c.Economy.Indicators[name]
		if !ok {
			return fmt.Errorf("economy.indicators: %q is required", name)
		}
		if ind.Tolerance <= 0 {
			return fmt.Errorf("economy.indicators.%s: tolerance must be positive, got %v", name, ind.Tolerance)
		}
	}
	for name := range c.Economy.Indicators {
		known := false
		for _, req := range requiredIndicators {
			if name == req {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("economy.indicators: unknown indicator %q", name)
		}
	}

	if c.Experiments.TrustScoreFloor < 0 || c.Experiments.TrustScoreFloor > 100 {
		return fmt.Errorf("experiments.trust_score_floor must be in [0,100], got %v", c.Experiments.TrustScoreFloor)
	}
	if c.Experiments.EducationShareTarget < 0 || c.Experiments.EducationShareTarget > 1 {
		return fmt.Errorf("experiments.education_share_target must be in [0,1], got %v", c.Experiments.EducationShareTarget)
	}
	if c.Experiments.MaxRolloutPercent < 0 || c.Experiments.MaxRolloutPercent > 100 {
		return fmt.Errorf("experiments.max_rollout_percent must be in [0,100], got %v", c.Experiments.MaxRolloutPercent)
	}

	if _, err := c.SafetyInterval(); err != nil {
		return err
	}
	if _, err := c.AdjustmentInterval(); err != nil {
		return err
	}

	if c.Health.Addr == "" {
		c.Health.Addr = DefaultHealthAddr
	}

	return nil
}

// SafetyInterval parses the safety cycle cadence.
func (c *FlywheelConfig) SafetyInterval() (time.Duration, error) {
	return parseInterval("experiments.safety_interval", c.Experiments.SafetyInterval, DefaultSafetyInterval)
}

// AdjustmentInterval parses the economy adjustment cadence.
func (c *FlywheelConfig) AdjustmentInterval() (time.Duration, error) {
	return parseInterval("economy.adjustment_interval", c.Economy.AdjustmentInterval, DefaultAdjustmentInterval)
}

func parseInterval(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", field, d)
	}
	return d, nil
}

// Load reads and validates a flywheel.yml file.
func Load(path string) (*FlywheelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FlywheelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
