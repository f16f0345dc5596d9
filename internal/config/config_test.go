package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keelerrors "github.com/keelframe/keel/internal/errors"
)

func writeKDL(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".keel.kdl"), []byte(content), 0o644))
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Project.Root)
	assert.Equal(t, DefaultMaxTokens, cfg.Budget.MaxTokens)
	assert.Equal(t, DefaultIdleEviction, cfg.Workspace.IdleEviction)
	assert.Equal(t, DefaultResourceTTL, cfg.Resource.TTL)
	assert.Equal(t, DefaultReductionSteps, cfg.Budget.Steps)
	assert.Equal(t, runtime.NumCPU(), cfg.Workspace.MaxWorkers)
	assert.False(t, cfg.Watch.Enabled)
}

func TestLoad_KDLOverlaysDefaults(t *testing.T) {
	root := t.TempDir()
	writeKDL(t, root, `
version 1

project {
    name "payments-api"
}

workspace {
    idle_eviction_sec 600
    close_grace_ms 500
    max_workers 8
    stale_retry_limit 2
}

budget {
    max_tokens 4000
    min_useful_tokens 200
    steps 60 40 20 10
    chars_per_token 3.5
}

resource {
    ttl_min 10
    max_entries 64
}

watch {
    enabled true
    debounce_ms 100
    include "**/*.cs"
    exclude "**/bin/**" "**/obj/**"
}
`)

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "payments-api", cfg.Project.Name)
	assert.Equal(t, root, cfg.Project.Root)

	assert.Equal(t, 10*time.Minute, cfg.Workspace.IdleEviction)
	assert.Equal(t, 500*time.Millisecond, cfg.Workspace.CloseGrace)
	assert.Equal(t, 8, cfg.Workspace.MaxWorkers)
	assert.Equal(t, 2, cfg.Workspace.StaleRetryLimit)

	assert.Equal(t, 4000, cfg.Budget.MaxTokens)
	assert.Equal(t, 200, cfg.Budget.MinUsefulTokens)
	assert.Equal(t, []int{60, 40, 20, 10}, cfg.Budget.Steps)
	assert.InDelta(t, 3.5, cfg.Budget.CharsPerToken, 0.001)
	assert.Equal(t, DefaultSampleSize, cfg.Budget.SampleSize, "unset keys keep defaults")

	assert.Equal(t, 10*time.Minute, cfg.Resource.TTL)
	assert.Equal(t, 64, cfg.Resource.MaxEntries)

	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, []string{"**/*.cs"}, cfg.Watch.Include)
	assert.Equal(t, []string{"**/bin/**", "**/obj/**"}, cfg.Watch.Exclude)
}

func TestLoad_RelativeRootResolvesAgainstConfigDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "api"), 0o755))
	writeKDL(t, root, `
project {
    root "src/api"
}
`)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "api"), cfg.Project.Root)
}

func TestLoad_MalformedKDL(t *testing.T) {
	root := t.TempDir()
	writeKDL(t, root, `workspace { idle_eviction_sec `)

	_, err := Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestValidator_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		field  string
	}{
		{"empty project root", func(c *Config) { c.Project.Root = "" }, "project"},
		{"zero idle eviction", func(c *Config) { c.Workspace.IdleEviction = 0 }, "workspace"},
		{"sweep exceeds idle window", func(c *Config) {
			c.Workspace.IdleEviction = time.Minute
			c.Workspace.SweepInterval = time.Hour
		}, "workspace"},
		{"negative close grace", func(c *Config) { c.Workspace.CloseGrace = -time.Second }, "workspace"},
		{"retry limit out of range", func(c *Config) { c.Workspace.StaleRetryLimit = 9 }, "workspace"},
		{"zero max tokens", func(c *Config) { c.Budget.MaxTokens = 0 }, "budget"},
		{"min useful above max", func(c *Config) { c.Budget.MinUsefulTokens = c.Budget.MaxTokens + 1 }, "budget"},
		{"zero sample size", func(c *Config) { c.Budget.SampleSize = 0 }, "budget"},
		{"irregularity below one", func(c *Config) { c.Budget.Irregularity = 0.5 }, "budget"},
		{"empty steps", func(c *Config) { c.Budget.Steps = nil }, "budget"},
		{"non-positive step", func(c *Config) { c.Budget.Steps = []int{50, 0} }, "budget"},
		{"zero resource ttl", func(c *Config) { c.Resource.TTL = 0 }, "resource"},
		{"zero resource cap", func(c *Config) { c.Resource.MaxEntries = 0 }, "resource"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(cfg)

			err := NewValidator().ValidateAndSetDefaults(cfg)
			require.Error(t, err)

			var ce *keelerrors.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestValidator_NormalizesSteps(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Budget.Steps = []int{20, 100, 50, 20, 75}

	require.NoError(t, NewValidator().ValidateAndSetDefaults(cfg))
	assert.Equal(t, []int{100, 75, 50, 20}, cfg.Budget.Steps, "sorted descending, duplicates dropped")
}

func TestValidator_MaxWorkersDefaultsToNumCPU(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Workspace.MaxWorkers = 0

	require.NoError(t, NewValidator().ValidateAndSetDefaults(cfg))
	assert.Equal(t, runtime.NumCPU(), cfg.Workspace.MaxWorkers)
}
