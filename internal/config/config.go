package config

// #region imports
import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/muse-engine/internal/policy"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region config

// Config is the process configuration. Operator overrides are validated
// fail-fast at load: running with undefined behavior is never an option, and
// out-of-range values are rejected rather than silently clamped.
type Config struct {
	DBPath        string          `yaml:"db_path"`
	Workers       int             `yaml:"workers"`
	HTTPAddr      string          `yaml:"http_addr"`
	OriginOverlay string          `yaml:"origin_overlay"`
	Policy        PolicySettings  `yaml:"policy"`
	Outcome       OutcomeSettings `yaml:"outcome"`
	Overrides     Overrides       `yaml:"overrides"`
}

// PolicySettings mirror the webapp-configured policy baseline.
type PolicySettings struct {
	BaseExploitRatio         float64 `yaml:"base_exploit_ratio"`
	TargetedExploreProb      float64 `yaml:"targeted_explore_prob"`
	CoverageFloor            float64 `yaml:"coverage_floor"`
	CoverageGateThresholdPct float64 `yaml:"coverage_gate_threshold_pct"`
	RecentWindow             int     `yaml:"recent_window"`
}

// OutcomeSettings bound the good-run gate.
type OutcomeSettings struct {
	MaxBrightnessStdDev float64 `yaml:"max_brightness_stddev"`
	MotionMin           float64 `yaml:"motion_min"`
	MotionMax           float64 `yaml:"motion_max"`
}

// Overrides are the operator knobs honored verbatim when present.
type Overrides struct {
	ExploitRatio    *float64 `yaml:"exploit_ratio"`
	ExtractionFocus []string `yaml:"extraction_focus"`
	BaseDurationSec int      `yaml:"base_duration_sec"`
}

// #endregion

// #region defaults

// Default returns the configuration used when no file is present.
func Default() Config {
	pd := policy.DefaultConfig()
	return Config{
		DBPath:   "muse_registry.db",
		Workers:  2,
		HTTPAddr: ":8690",
		Policy: PolicySettings{
			BaseExploitRatio:         pd.BaseExploitRatio,
			TargetedExploreProb:      pd.TargetedExploreProb,
			CoverageFloor:            pd.CoverageFloor,
			CoverageGateThresholdPct: pd.CoverageGateThresholdPct,
			RecentWindow:             pd.RecentWindow,
		},
		Outcome: OutcomeSettings{
			MaxBrightnessStdDev: 48,
			MotionMin:           0.05,
			MotionMax:           0.95,
		},
	}
}

// #endregion

// #region load

// Load reads the config file at path over the defaults. An empty path
// returns the defaults. Unknown keys and invalid overrides are errors.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// #endregion

// #region validate

// Validate rejects malformed configuration. This is the InvalidOverride
// fail-fast path: errors here are fatal at process start.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("invalid config: workers must be >= 1, got %d", c.Workers)
	}
	if c.Policy.BaseExploitRatio < 0 || c.Policy.BaseExploitRatio > 1 {
		return fmt.Errorf("invalid config: base_exploit_ratio %v outside [0,1]", c.Policy.BaseExploitRatio)
	}
	if c.Policy.TargetedExploreProb < 0 || c.Policy.TargetedExploreProb > 1 {
		return fmt.Errorf("invalid config: targeted_explore_prob %v outside [0,1]", c.Policy.TargetedExploreProb)
	}

	if r := c.Overrides.ExploitRatio; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("invalid override: exploit_ratio %v outside [0,1]", *r)
	}
	for _, d := range c.Overrides.ExtractionFocus {
		if _, ok := taxonomy.TierOf(taxonomy.Domain(d)); !ok {
			return fmt.Errorf("invalid override: unknown extraction_focus domain %q", d)
		}
	}
	if c.Overrides.BaseDurationSec < 0 {
		return fmt.Errorf("invalid override: base_duration_sec %d is negative", c.Overrides.BaseDurationSec)
	}

	if c.Outcome.MotionMin > c.Outcome.MotionMax {
		return fmt.Errorf("invalid config: motion_min %v > motion_max %v", c.Outcome.MotionMin, c.Outcome.MotionMax)
	}
	return nil
}

// #endregion

// #region policy-config

// PolicyConfig maps the file settings and overrides onto the engine config.
func (c *Config) PolicyConfig() policy.Config {
	pc := policy.DefaultConfig()
	pc.BaseExploitRatio = c.Policy.BaseExploitRatio
	pc.TargetedExploreProb = c.Policy.TargetedExploreProb
	pc.CoverageFloor = c.Policy.CoverageFloor
	pc.CoverageGateThresholdPct = c.Policy.CoverageGateThresholdPct
	pc.RecentWindow = c.Policy.RecentWindow
	pc.OverrideExploitRatio = c.Overrides.ExploitRatio
	if c.Overrides.BaseDurationSec > 0 {
		pc.BaseDurationSec = c.Overrides.BaseDurationSec
	}
	return pc
}

// FocusDomains returns the extraction-focus override as typed domains.
func (c *Config) FocusDomains() []taxonomy.Domain {
	out := make([]taxonomy.Domain, 0, len(c.Overrides.ExtractionFocus))
	for _, d := range c.Overrides.ExtractionFocus {
		out = append(out, taxonomy.Domain(d))
	}
	return out
}

// #endregion
