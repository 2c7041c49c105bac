package integrator

import "strconv"

// Path lifecycle.
//
// Every kernel invocation ends by calling exactly one exit transition for the
// path it processed: PathNext/PathNextSorted to hand the path to another
// kernel, or PathTerminate. New paths enter through PathInit/PathInitSorted.
// Shadow paths have the same transitions on their own array and counters.
//
// The queued-kernel register and the counters are kept consistent only if
// callers respect the preconditions; with DebugChecks enabled a violation
// panics instead of silently corrupting the counts.

// PathInit queues the terminated path for next.
func (s *State) PathInit(path int, next DeviceKernel) {
	p := &s.Paths[path]
	if s.checks {
		s.assertValid(next)
		s.assertUnsorted(next)
		if p.QueuedKernel != KernelNone {
			panic("integrator: PathInit on path " + strconv.Itoa(path) + " queued for " + p.QueuedKernel.String())
		}
	}
	s.Queue.inc(next)
	p.QueuedKernel = next
}

// PathNext moves the path from current to next.
func (s *State) PathNext(path int, current, next DeviceKernel) {
	p := &s.Paths[path]
	if s.checks {
		s.assertValid(next)
		s.assertUnsorted(next)
		s.assertOwner(path, p.QueuedKernel, current)
	}
	s.Queue.dec(current)
	s.Queue.inc(next)
	p.QueuedKernel = next
}

// PathTerminate ends the path. The slot becomes a compaction target.
func (s *State) PathTerminate(path int, current DeviceKernel) {
	p := &s.Paths[path]
	if s.checks {
		s.assertOwner(path, p.QueuedKernel, current)
	}
	s.Queue.dec(current)
	p.QueuedKernel = KernelNone
}

// PathInitSorted is PathInit for a kernel that groups paths by shader. The
// composite key of the path is stored and its key counter bumped, unless
// next does not sort in this configuration.
func (s *State) PathInitSorted(path int, next DeviceKernel, key uint32) {
	p := &s.Paths[path]
	if s.checks {
		s.assertValid(next)
		if p.QueuedKernel != KernelNone {
			panic("integrator: PathInitSorted on path " + strconv.Itoa(path) + " queued for " + p.QueuedKernel.String())
		}
	}
	s.Queue.inc(next)
	p.QueuedKernel = next
	s.bumpSortKey(p, path, next, key)
}

// PathNextSorted is PathNext for a kernel that groups paths by shader.
func (s *State) PathNextSorted(path int, current, next DeviceKernel, key uint32) {
	p := &s.Paths[path]
	if s.checks {
		s.assertValid(next)
		s.assertOwner(path, p.QueuedKernel, current)
	}
	s.Queue.dec(current)
	s.Queue.inc(next)
	p.QueuedKernel = next
	s.bumpSortKey(p, path, next, key)
}

func (s *State) bumpSortKey(p *PathState, path int, next DeviceKernel, key uint32) {
	sortKey := s.SortKey(key, path)
	p.ShaderSortKey = sortKey
	if counter := s.sortCounters[next]; counter != nil {
		counter[sortKey].Add(1)
	}
}

// SpawnShadow reserves a shadow path for the path, copies the state a shadow
// ray needs and queues it for next on the shadow counters. It returns the
// shadow index, or false when the shadow array is exhausted; refused spawns
// are counted in ShadowOverflow.
//
// Shadow indices are never reused before the host compacts the shadow array.
func (s *State) SpawnShadow(path int, next DeviceKernel) (int, bool) {
	if s.checks {
		s.assertValid(next)
	}
	idx := s.nextShadow.Add(1) - 1
	if int(idx) >= len(s.Shadows) {
		s.shadowOverflow.Add(1)
		return -1, false
	}

	p := &s.Paths[path]
	sh := &s.Shadows[idx]
	if s.checks && sh.QueuedKernel != KernelNone {
		panic("integrator: shadow slot " + strconv.Itoa(int(idx)) + " still queued for " + sh.QueuedKernel.String())
	}
	*sh = ShadowPathState{
		Path:             int32(path),
		Bounce:           p.Bounce,
		RenderPixelIndex: p.RenderPixelIndex,
		Sample:           p.Sample,
		RNGHash:          p.RNGHash,
		Flags:            p.Flags,
		Throughput:       p.Throughput,
		GuidingSegment:   p.GuidingSegment,
	}
	s.ShadowQueue.inc(next)
	sh.QueuedKernel = next
	return int(idx), true
}

// ShadowPathNext moves the shadow path from current to next.
func (s *State) ShadowPathNext(shadow int, current, next DeviceKernel) {
	sh := &s.Shadows[shadow]
	if s.checks {
		s.assertValid(next)
		s.assertOwner(shadow, sh.QueuedKernel, current)
	}
	s.ShadowQueue.dec(current)
	s.ShadowQueue.inc(next)
	sh.QueuedKernel = next
}

// ShadowPathTerminate ends the shadow path. The borrowed guiding segment is
// dropped, not released.
func (s *State) ShadowPathTerminate(shadow int, current DeviceKernel) {
	sh := &s.Shadows[shadow]
	if s.checks {
		s.assertOwner(shadow, sh.QueuedKernel, current)
	}
	s.ShadowQueue.dec(current)
	sh.QueuedKernel = KernelNone
	sh.GuidingSegment = NoGuidingSegment
}

func (s *State) assertValid(k DeviceKernel) {
	if !k.Valid() {
		panic("integrator: cannot queue path for " + k.String())
	}
}

// assertUnsorted rejects unsorted transitions into a kernel with key
// counters: the prefix sum would not account for the path.
func (s *State) assertUnsorted(k DeviceKernel) {
	if s.sortCounters[k] != nil {
		panic("integrator: " + k.String() + " keeps sort counters; use the sorted transition")
	}
}

func (s *State) assertOwner(idx int, queued, current DeviceKernel) {
	if queued != current {
		panic("integrator: path " + strconv.Itoa(idx) + " is queued for " + queued.String() +
			", not " + current.String())
	}
}
