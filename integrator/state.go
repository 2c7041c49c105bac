package integrator

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// NoGuidingSegment marks a path without a path-guiding segment.
const NoGuidingSegment int32 = -1

// Bounce holds the per-path bounce depth counters.
type Bounce struct {
	Diffuse      uint16
	Glossy       uint16
	Transmission uint16
	Transparent  uint16
	Total        uint16
}

// PathState is one in-flight camera path. Paths are addressed by their index
// in State.Paths; the slot at that index is the path.
type PathState struct {
	// QueuedKernel is the kernel that processes this path next, or
	// KernelNone once the path terminated.
	QueuedKernel DeviceKernel

	// ShaderSortKey groups paths for coherent shading. It carries no meaning
	// for the scheduler beyond equality.
	ShaderSortKey uint32

	Bounce Bounce

	RenderPixelIndex uint32
	Sample           uint32
	RNGHash          uint32
	Flags            uint32

	Throughput [3]float32
	MISRayPDF  float32

	// GuidingSegment is owned by the path and lent to the shadow paths it
	// spawns.
	GuidingSegment int32
}

// ShadowPathState is one in-flight shadow ray spawned by a camera path.
type ShadowPathState struct {
	QueuedKernel DeviceKernel

	// Path is the index of the spawning path at spawn time. It is only
	// meaningful until the next compaction of the main path array.
	Path int32

	Bounce Bounce

	RenderPixelIndex uint32
	Sample           uint32
	RNGHash          uint32
	Flags            uint32

	Throughput [3]float32

	// GuidingSegment is borrowed from the spawning path and never released
	// by the shadow path.
	GuidingSegment int32
}

// StateConfig sizes a State.
type StateConfig struct {
	// MaxPaths is the capacity of the camera path array.
	MaxPaths int

	// MaxShadowPaths is the capacity of the shadow path array.
	MaxShadowPaths int

	// NumShaders is the number of distinct shader sort keys.
	NumShaders uint32

	// SortPartitionDivisor is the path-index band width of the composite
	// sort key. Zero disables locality bands.
	SortPartitionDivisor int

	// Sort selects how kernels whose UsesSorting is true order their
	// launches.
	Sort SortMode

	// DebugChecks turns caller-contract violations into panics.
	DebugChecks bool
}

// SortMode selects the shader sorting strategy.
type SortMode uint8

const (
	// SortNone launches paths in index order.
	SortNone SortMode = iota
	// SortAtomic keeps per-key counters that the host turns into offsets
	// with a prefix sum; kernels then claim slots with device-wide atomics.
	SortAtomic
	// SortPartitioned bucket-sorts each partition with block-local atomics.
	// Kernels still record sort keys but keep no counters.
	SortPartitioned
)

func (m SortMode) String() string {
	switch m {
	case SortAtomic:
		return "atomic"
	case SortPartitioned:
		return "partitioned"
	default:
		return "none"
	}
}

// ParseSortMode parses the String form of a SortMode.
func ParseSortMode(s string) (SortMode, error) {
	switch s {
	case "", "none":
		return SortNone, nil
	case "atomic":
		return SortAtomic, nil
	case "partitioned":
		return SortPartitioned, nil
	}
	return SortNone, fmt.Errorf("integrator: unknown sort mode %q", s)
}

var errStateConfig = errors.New("integrator: invalid state config")

// State is the shared integrator state of one device: both path arrays, both
// queue counter sets, the shadow allocation counter and the shader sort
// counters. It is passed explicitly to every kernel.
type State struct {
	Paths   []PathState
	Shadows []ShadowPathState

	// Queue counts main paths per kernel, ShadowQueue counts shadow paths.
	Queue       QueueCounters
	ShadowQueue QueueCounters

	nextShadow     atomic.Uint32
	shadowOverflow atomic.Uint64

	sortMode      SortMode
	numShaders    uint32
	divisor       uint32
	numPartitions uint32
	sortCounters  [NumKernels][]atomic.Uint32

	checks bool
}

// NewState allocates the state for cfg.
func NewState(cfg StateConfig) (*State, error) {
	if cfg.MaxPaths <= 0 || cfg.MaxPaths > math.MaxInt32 {
		return nil, fmt.Errorf("%w: max paths %d", errStateConfig, cfg.MaxPaths)
	}
	if cfg.MaxShadowPaths <= 0 || cfg.MaxShadowPaths > math.MaxInt32 {
		return nil, fmt.Errorf("%w: max shadow paths %d", errStateConfig, cfg.MaxShadowPaths)
	}
	if cfg.NumShaders == 0 {
		cfg.NumShaders = 1
	}
	if cfg.SortPartitionDivisor < 0 {
		return nil, fmt.Errorf("%w: sort partition divisor %d", errStateConfig, cfg.SortPartitionDivisor)
	}

	s := &State{
		Paths:         make([]PathState, cfg.MaxPaths),
		Shadows:       make([]ShadowPathState, cfg.MaxShadowPaths),
		sortMode:      cfg.Sort,
		numShaders:    cfg.NumShaders,
		numPartitions: 1,
		checks:        cfg.DebugChecks,
	}
	if cfg.SortPartitionDivisor > 0 {
		s.divisor = uint32(cfg.SortPartitionDivisor)
		s.numPartitions = uint32((cfg.MaxPaths + cfg.SortPartitionDivisor - 1) / cfg.SortPartitionDivisor)
	}
	if uint64(s.numShaders)*uint64(s.numPartitions) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d shaders x %d partitions", errStateConfig, s.numShaders, s.numPartitions)
	}
	s.Queue.checks = cfg.DebugChecks
	s.ShadowQueue.checks = cfg.DebugChecks

	if cfg.Sort == SortAtomic {
		for k := range NumKernels {
			if k.UsesSorting() {
				s.sortCounters[k] = make([]atomic.Uint32, s.NumSortKeys())
			}
		}
	}
	for i := range s.Paths {
		s.Paths[i].GuidingSegment = NoGuidingSegment
	}
	for i := range s.Shadows {
		s.Shadows[i].GuidingSegment = NoGuidingSegment
	}
	return s, nil
}

// MaxPaths returns the capacity of the path array.
func (s *State) MaxPaths() int { return len(s.Paths) }

// MaxShadowPaths returns the capacity of the shadow path array.
func (s *State) MaxShadowPaths() int { return len(s.Shadows) }

// NumShaders returns the number of raw shader sort keys.
func (s *State) NumShaders() uint32 { return s.numShaders }

// NumSortKeys returns the number of composite sort keys.
func (s *State) NumSortKeys() int { return int(s.numShaders * s.numPartitions) }

// NumSortPartitions returns the number of locality bands.
func (s *State) NumSortPartitions() int { return int(s.numPartitions) }

// DebugChecks reports whether contract violations panic.
func (s *State) DebugChecks() bool { return s.checks }

// SortKey returns the composite sort key of a path: the raw key within the
// path's index band, so that paths group by band first and shader second.
func (s *State) SortKey(key uint32, path int) uint32 {
	key %= s.numShaders
	if s.divisor == 0 {
		return key
	}
	return key + s.numShaders*(uint32(path)/s.divisor)
}

// SortMode returns the sorting strategy.
func (s *State) SortMode() SortMode { return s.sortMode }

// SortPartitionDivisor returns the locality band width, or 0.
func (s *State) SortPartitionDivisor() int { return int(s.divisor) }

// Sorted reports whether launches of k are ordered by sort key.
func (s *State) Sorted(k DeviceKernel) bool {
	return s.sortMode != SortNone && k.UsesSorting()
}

// SortKeyCounter returns the per-key counters of k, or nil when k keeps
// none in this configuration.
func (s *State) SortKeyCounter(k DeviceKernel) []atomic.Uint32 {
	if k >= NumKernels {
		return nil
	}
	return s.sortCounters[k]
}

// NextShadowIndex returns the shadow allocation counter. Indices below it
// have been handed out since the last shadow compaction; values above
// MaxShadowPaths count refused spawns.
func (s *State) NextShadowIndex() uint32 { return s.nextShadow.Load() }

// SetNextShadowIndex resets the shadow allocation counter. Only the host
// calls it, between launches.
func (s *State) SetNextShadowIndex(n uint32) { s.nextShadow.Store(n) }

// ShadowOverflow returns the number of spawns refused for lack of capacity.
func (s *State) ShadowOverflow() uint64 { return s.shadowOverflow.Load() }

// NumActivePaths returns the number of queued main paths.
func (s *State) NumActivePaths() uint64 { return s.Queue.Total() }

// NumActiveShadowPaths returns the number of queued shadow paths.
func (s *State) NumActiveShadowPaths() uint64 { return s.ShadowQueue.Total() }

// Reset clears both path arrays and zeroes all counters.
func (s *State) Reset() {
	clear(s.Paths)
	clear(s.Shadows)
	for i := range s.Paths {
		s.Paths[i].GuidingSegment = NoGuidingSegment
	}
	for i := range s.Shadows {
		s.Shadows[i].GuidingSegment = NoGuidingSegment
	}
	s.Queue.Reset()
	s.ShadowQueue.Reset()
	s.nextShadow.Store(0)
	for k := range s.sortCounters {
		for i := range s.sortCounters[k] {
			s.sortCounters[k][i].Store(0)
		}
	}
}
