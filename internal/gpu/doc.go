//go:build !nogpu

// Package gpu dispatches the index-building kernels of the wavefront
// scheduler on a GPU.
//
// The kernels are WGSL compute shaders compiled by the gogpu/wgpu HAL:
//
//   - prefix_sum: serial exclusive scan of per-key counters
//   - active_index: ballot-style compaction of states matching a filter
//   - sorted_index: key-grouped compaction with device-wide atomics
//   - sort_bucket, sort_write: two-pass partitioned bucket sort
//
// Each call uploads the queued-kernel register (and sort keys) of the path
// array, runs the passes in one command buffer, and reads the results back.
// The CPU kernels in package compute define the expected results; callers
// fall back to them on any error returned here.
package gpu
