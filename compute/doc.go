// Package compute implements the stream-compaction and sorting kernels that
// rebuild the launch lists of a wavefront path tracer between steps.
//
// The kernels are written against the SIMT model of package simt: ballots and
// population counts within a warp, a scan over warps behind a block barrier,
// and one global atomic reservation per block. The same algorithms are
// implemented as WGSL shaders for GPU dispatch; the versions here are the
// reference the GPU results are checked against.
//
// Predicates and key functions passed to these kernels must be pure for the
// duration of a call. The two-pass kernels evaluate them twice and rely on
// getting the same answer.
package compute
