package compute

import (
	"fmt"

	"github.com/gogpu/wavefront/integrator"
)

// FilterMode is the test a QueueFilter applies to a queued-kernel register.
type FilterMode uint32

const (
	// FilterQueued selects states queued for Kernel.
	FilterQueued FilterMode = iota
	// FilterActive selects states queued for any kernel.
	FilterActive
	// FilterTerminated selects terminated states.
	FilterTerminated
	// FilterActiveFrom selects queued states with index >= Threshold.
	FilterActiveFrom
)

func (m FilterMode) String() string {
	switch m {
	case FilterQueued:
		return "queued"
	case FilterActive:
		return "active"
	case FilterTerminated:
		return "terminated"
	case FilterActiveFrom:
		return "active-from"
	}
	return fmt.Sprintf("FilterMode(%d)", uint32(m))
}

// QueueFilter is a predicate over the queued-kernel register expressed as
// data, so that the same selection can be evaluated by a shader.
type QueueFilter struct {
	Mode      FilterMode
	Kernel    integrator.DeviceKernel
	Threshold int
}

// Match evaluates the filter for the state at index with register queued.
func (f QueueFilter) Match(index int, queued integrator.DeviceKernel) bool {
	switch f.Mode {
	case FilterQueued:
		return queued == f.Kernel
	case FilterActive:
		return queued != integrator.KernelNone
	case FilterTerminated:
		return queued == integrator.KernelNone
	case FilterActiveFrom:
		return queued != integrator.KernelNone && index >= f.Threshold
	}
	return false
}

// Paths returns the filter as a predicate over the main path array.
func (f QueueFilter) Paths(s *integrator.State) Predicate {
	return func(i int) bool { return f.Match(i, s.Paths[i].QueuedKernel) }
}

// Shadows returns the filter as a predicate over the shadow path array.
func (f QueueFilter) Shadows(s *integrator.State) Predicate {
	return func(i int) bool { return f.Match(i, s.Shadows[i].QueuedKernel) }
}

// SortKeys returns the key function selecting paths queued for kernel, keyed
// by their composite shader sort key.
func SortKeys(s *integrator.State, kernel integrator.DeviceKernel) KeyFunc {
	return func(i int) (uint32, bool) {
		p := &s.Paths[i]
		if p.QueuedKernel != kernel {
			return 0, false
		}
		return p.ShaderSortKey, true
	}
}

// ReleasePath resets a path slot vacated by compaction.
func ReleasePath(p *integrator.PathState) {
	*p = integrator.PathState{GuidingSegment: integrator.NoGuidingSegment}
}

// ReleaseShadowPath resets a shadow slot vacated by compaction.
func ReleaseShadowPath(p *integrator.ShadowPathState) {
	*p = integrator.ShadowPathState{GuidingSegment: integrator.NoGuidingSegment}
}
