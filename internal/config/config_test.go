package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "muse.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "muse_registry.db", cfg.DBPath)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, ":8690", cfg.HTTPAddr)
	assert.Nil(t, cfg.Overrides.ExploitRatio)
}

func TestFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/other.db
workers: 4
policy:
  base_exploit_ratio: 0.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 0.5, cfg.Policy.BaseExploitRatio)
	// Untouched fields keep their defaults.
	assert.Equal(t, ":8690", cfg.HTTPAddr)
}

func TestExploitRatioOutOfRangeRejected(t *testing.T) {
	path := writeConfig(t, `
overrides:
  exploit_ratio: 1.5
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exploit_ratio")
}

func TestUnknownFocusDomainRejected(t *testing.T) {
	path := writeConfig(t, `
overrides:
  extraction_focus: [color, flavor]
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flavor")
}

func TestUnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `
db_path: x.db
wokers: 3
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestNegativeDurationRejected(t *testing.T) {
	path := writeConfig(t, `
overrides:
  base_duration_sec: -5
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestMotionBoundsOrderRejected(t *testing.T) {
	path := writeConfig(t, `
outcome:
  motion_min: 0.9
  motion_max: 0.1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestPolicyConfigCarriesOverrides(t *testing.T) {
	path := writeConfig(t, `
policy:
  base_exploit_ratio: 0.4
overrides:
  exploit_ratio: 0.9
  base_duration_sec: 30
  extraction_focus: [color, motion]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	pc := cfg.PolicyConfig()
	assert.Equal(t, 0.4, pc.BaseExploitRatio)
	require.NotNil(t, pc.OverrideExploitRatio)
	assert.Equal(t, 0.9, *pc.OverrideExploitRatio)
	assert.Equal(t, 30, pc.BaseDurationSec)

	assert.Equal(t, []taxonomy.Domain{taxonomy.DomainColor, taxonomy.DomainMotion}, cfg.FocusDomains())
}
