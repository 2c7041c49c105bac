package integrator

import "sync/atomic"

// QueueCounters holds the number of paths queued for each kernel.
//
// Counters are modified only by the lifecycle operations of State, always
// with atomic add/sub, and read by the host between launches. Index 0
// (KernelNone) is never incremented.
type QueueCounters struct {
	n      [NumKernels]atomic.Uint32
	checks bool
}

func (q *QueueCounters) inc(k DeviceKernel) {
	if q.n[k].Add(1) == 0 && q.checks {
		panic("integrator: queue counter overflow for " + k.String())
	}
}

func (q *QueueCounters) dec(k DeviceKernel) {
	if q.n[k].Add(^uint32(0)) == ^uint32(0) && q.checks {
		panic("integrator: queue counter underflow for " + k.String())
	}
}

// Load returns the number of paths queued for k.
func (q *QueueCounters) Load(k DeviceKernel) uint32 {
	return q.n[k].Load()
}

// Total returns the sum over all kernels.
func (q *QueueCounters) Total() uint64 {
	var sum uint64
	for k := range q.n {
		sum += uint64(q.n[k].Load())
	}
	return sum
}

// Snapshot copies the counters.
func (q *QueueCounters) Snapshot() [NumKernels]uint32 {
	var out [NumKernels]uint32
	for k := range q.n {
		out[k] = q.n[k].Load()
	}
	return out
}

// MostQueued returns the kernel with the largest queue and its size.
// Ties resolve to the lower kernel id. It returns (KernelNone, 0) when all
// queues are empty.
func (q *QueueCounters) MostQueued() (DeviceKernel, uint32) {
	best, bestN := KernelNone, uint32(0)
	for k := range q.n {
		if n := q.n[k].Load(); n > bestN {
			best, bestN = DeviceKernel(k), n
		}
	}
	return best, bestN
}

// Reset zeroes every counter.
func (q *QueueCounters) Reset() {
	for k := range q.n {
		q.n[k].Store(0)
	}
}
