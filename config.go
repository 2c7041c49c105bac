package wavefront

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/wavefront/integrator"
	"github.com/gogpu/wavefront/simt"
)

// Config holds the numeric parameters of a Scheduler. It can be loaded from
// a YAML or JSON file and overridden from WAVEFRONT_* environment variables.
//
// Thread safety: safe to read concurrently; not safe to modify after New.
type Config struct {
	// MaxPaths is the size of the main path state array.
	MaxPaths int `json:"max_paths" yaml:"max_paths"`

	// MaxShadowPaths is the size of the shadow path array. 0 means MaxPaths.
	MaxShadowPaths int `json:"max_shadow_paths" yaml:"max_shadow_paths"`

	// MinActivePaths is the live population below which new work tiles are
	// enqueued. 0 means MaxPaths/2.
	MinActivePaths int `json:"min_active_paths" yaml:"min_active_paths"`

	// BlockSize is the number of threads per block of a compute launch.
	BlockSize int `json:"block_size" yaml:"block_size"`

	// LaneWidth selects the lane group: 32, 64, or 1 for scalar execution.
	LaneWidth int `json:"lane_width" yaml:"lane_width"`

	// Workers is the number of block workers. 0 means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`

	// NumShaders is the number of raw shader sort keys.
	NumShaders int `json:"num_shaders" yaml:"num_shaders"`

	// Sort is the shader sorting strategy: "none", "atomic" or "partitioned".
	Sort string `json:"sort" yaml:"sort"`

	// SortPartitionSize is the width of the locality bands of the composite
	// sort key, and the partition size of the partitioned sort. 0 disables
	// banding.
	SortPartitionSize int `json:"sort_partition_size" yaml:"sort_partition_size"`

	// ScramblingDistance below 0.9 switches work tiles to sample-major order.
	ScramblingDistance float32 `json:"scrambling_distance" yaml:"scrambling_distance"`

	// TileSize is the edge length of a work tile in pixels.
	TileSize int `json:"tile_size" yaml:"tile_size"`

	// DebugChecks enables lifecycle and compaction assertions that panic on
	// violation.
	DebugChecks bool `json:"debug_checks" yaml:"debug_checks"`

	// UseGPU builds launch indices with the registered accelerator.
	UseGPU bool `json:"use_gpu" yaml:"use_gpu"`
}

// maxPathsLimit keeps path indices and counters well inside uint32.
const maxPathsLimit = 1 << 26

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxPaths:           1 << 14,
		BlockSize:          simt.DefaultBlockSize,
		LaneWidth:          32,
		NumShaders:         16,
		Sort:               integrator.SortAtomic.String(),
		SortPartitionSize:  0,
		ScramblingDistance: 1,
		TileSize:           64,
	}
}

// LoadConfig loads configuration with priority env > file > defaults.
// A missing file is not an error; an unparsable one is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("wavefront: load config file: %w", err)
		}
	}

	if err := loadConfigFromEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(cfg *Config) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"WAVEFRONT_MAX_PATHS", &cfg.MaxPaths},
		{"WAVEFRONT_MAX_SHADOW_PATHS", &cfg.MaxShadowPaths},
		{"WAVEFRONT_MIN_ACTIVE_PATHS", &cfg.MinActivePaths},
		{"WAVEFRONT_BLOCK_SIZE", &cfg.BlockSize},
		{"WAVEFRONT_LANE_WIDTH", &cfg.LaneWidth},
		{"WAVEFRONT_WORKERS", &cfg.Workers},
		{"WAVEFRONT_NUM_SHADERS", &cfg.NumShaders},
		{"WAVEFRONT_SORT_PARTITION_SIZE", &cfg.SortPartitionSize},
		{"WAVEFRONT_TILE_SIZE", &cfg.TileSize},
	}
	for _, e := range ints {
		if v := os.Getenv(e.name); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, e.name, v, err)
			}
			*e.dst = i
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"WAVEFRONT_DEBUG_CHECKS", &cfg.DebugChecks},
		{"WAVEFRONT_USE_GPU", &cfg.UseGPU},
	}
	for _, e := range bools {
		if v := os.Getenv(e.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, e.name, v, err)
			}
			*e.dst = b
		}
	}

	if v := os.Getenv("WAVEFRONT_SORT"); v != "" {
		cfg.Sort = v
	}
	if v := os.Getenv("WAVEFRONT_SCRAMBLING_DISTANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("%w: WAVEFRONT_SCRAMBLING_DISTANCE=%q: %v", ErrInvalidConfig, v, err)
		}
		cfg.ScramblingDistance = float32(f)
	}
	return nil
}

// Validate checks the configuration. Every error wraps ErrInvalidConfig.
func (c Config) Validate() error {
	if c.MaxPaths <= 0 || c.MaxPaths > maxPathsLimit {
		return fmt.Errorf("%w: max_paths must be in 1..%d, got %d", ErrInvalidConfig, maxPathsLimit, c.MaxPaths)
	}
	if c.MaxShadowPaths < 0 || c.MaxShadowPaths > maxPathsLimit {
		return fmt.Errorf("%w: max_shadow_paths must be in 0..%d, got %d", ErrInvalidConfig, maxPathsLimit, c.MaxShadowPaths)
	}
	if c.shadowCapacity() < 2 {
		return fmt.Errorf("%w: shadow capacity must hold at least 2 paths", ErrInvalidConfig)
	}
	if c.MinActivePaths < 0 || c.MinActivePaths >= c.MaxPaths {
		return fmt.Errorf("%w: min_active_paths must be in 0..%d, got %d", ErrInvalidConfig, c.MaxPaths-1, c.MinActivePaths)
	}
	lanes, err := simt.LanesForWidth(c.LaneWidth)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.BlockSize <= 0 || c.BlockSize%lanes.Width() != 0 {
		return fmt.Errorf("%w: block_size %d is not a positive multiple of lane width %d",
			ErrInvalidConfig, c.BlockSize, lanes.Width())
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.NumShaders <= 0 {
		return fmt.Errorf("%w: num_shaders must be > 0, got %d", ErrInvalidConfig, c.NumShaders)
	}
	if _, err := integrator.ParseSortMode(c.Sort); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.SortPartitionSize < 0 {
		return fmt.Errorf("%w: sort_partition_size must be >= 0, got %d", ErrInvalidConfig, c.SortPartitionSize)
	}
	if c.ScramblingDistance < 0 || c.ScramblingDistance > 1 {
		return fmt.Errorf("%w: scrambling_distance must be in [0, 1], got %g", ErrInvalidConfig, c.ScramblingDistance)
	}
	if c.TileSize <= 0 {
		return fmt.Errorf("%w: tile_size must be > 0, got %d", ErrInvalidConfig, c.TileSize)
	}
	return nil
}

func (c Config) shadowCapacity() int {
	if c.MaxShadowPaths == 0 {
		return c.MaxPaths
	}
	return c.MaxShadowPaths
}

func (c Config) minActivePaths() int {
	if c.MinActivePaths == 0 {
		return c.MaxPaths / 2
	}
	return c.MinActivePaths
}

// tileBudget is the path budget a tile must fit: the free space guaranteed
// whenever the scheduler enqueues work.
func (c Config) tileBudget() int {
	return c.MaxPaths - c.minActivePaths()
}

// sortPartitionSize is the partition size of the partitioned sort.
func (c Config) sortPartitionSize() int {
	if c.SortPartitionSize == 0 {
		return c.MaxPaths
	}
	return c.SortPartitionSize
}
