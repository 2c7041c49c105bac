// Package integrator holds the shared state of a wavefront path tracer and
// the lifecycle transitions every kernel uses to hand paths on.
//
// A path is a slot in State.Paths; the slot's QueuedKernel names the only
// kernel allowed to touch it next. State.Queue counts how many paths wait for
// each kernel, so the host can pick the next launch without scanning the
// array. Shadow rays live in their own array with their own counters and are
// allocated by SpawnShadow from a monotonic index.
//
// Kernels that shade surfaces additionally record a shader sort key through
// PathInitSorted or PathNextSorted; package compute turns the per-key
// counters into a coherent launch order.
package integrator
