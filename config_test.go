package wavefront

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1<<14, cfg.MaxPaths)
	assert.Equal(t, cfg.MaxPaths, cfg.shadowCapacity())
	assert.Equal(t, cfg.MaxPaths/2, cfg.minActivePaths())
	assert.Equal(t, cfg.MaxPaths/2, cfg.tileBudget())
	assert.Equal(t, cfg.MaxPaths, cfg.sortPartitionSize())
	assert.Equal(t, "atomic", cfg.Sort)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero max paths", func(c *Config) { c.MaxPaths = 0 }},
		{"huge max paths", func(c *Config) { c.MaxPaths = maxPathsLimit + 1 }},
		{"negative shadow paths", func(c *Config) { c.MaxShadowPaths = -1 }},
		{"one shadow path", func(c *Config) { c.MaxShadowPaths = 1 }},
		{"min active at capacity", func(c *Config) { c.MinActivePaths = c.MaxPaths }},
		{"bad lane width", func(c *Config) { c.LaneWidth = 16 }},
		{"misaligned block", func(c *Config) { c.BlockSize = 100 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"no shaders", func(c *Config) { c.NumShaders = 0 }},
		{"unknown sort", func(c *Config) { c.Sort = "radix" }},
		{"negative partition", func(c *Config) { c.SortPartitionSize = -4 }},
		{"scrambling above one", func(c *Config) { c.ScramblingDistance = 1.5 }},
		{"zero tile", func(c *Config) { c.TileSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_paths: 4096
max_shadow_paths: 1024
lane_width: 64
block_size: 128
sort: partitioned
sort_partition_size: 512
debug_checks: true
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.MaxPaths)
	assert.Equal(t, 1024, cfg.shadowCapacity())
	assert.Equal(t, 64, cfg.LaneWidth)
	assert.Equal(t, "partitioned", cfg.Sort)
	assert.Equal(t, 512, cfg.sortPartitionSize())
	assert.True(t, cfg.DebugChecks)
	// Unset keys keep their defaults.
	assert.Equal(t, 64, cfg.TileSize)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavefront.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_paths": 2048, "sort": "none", "use_gpu": true}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.MaxPaths)
	assert.Equal(t, "none", cfg.Sort)
	assert.True(t, cfg.UseGPU)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_Unparsable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_paths: [1, 2"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_paths: 4096\ntile_size: 32\n"), 0o600))

	t.Setenv("WAVEFRONT_MAX_PATHS", "8192")
	t.Setenv("WAVEFRONT_SORT", "none")
	t.Setenv("WAVEFRONT_DEBUG_CHECKS", "true")
	t.Setenv("WAVEFRONT_SCRAMBLING_DISTANCE", "0.5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8192, cfg.MaxPaths)
	assert.Equal(t, 32, cfg.TileSize)
	assert.Equal(t, "none", cfg.Sort)
	assert.True(t, cfg.DebugChecks)
	assert.InDelta(t, 0.5, cfg.ScramblingDistance, 1e-6)
}

func TestLoadConfig_BadEnv(t *testing.T) {
	t.Setenv("WAVEFRONT_WORKERS", "many")

	_, err := LoadConfig("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig_InvalidAfterOverrides(t *testing.T) {
	t.Setenv("WAVEFRONT_LANE_WIDTH", "64")
	t.Setenv("WAVEFRONT_BLOCK_SIZE", "96")

	_, err := LoadConfig("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
