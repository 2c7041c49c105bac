// Package wavefront schedules path-tracing kernels over a shared array of
// path states.
//
// # Overview
//
// A wavefront integrator runs one kernel at a time over every path queued for
// it, instead of tracing each path to completion. The Scheduler owns the path
// state (see package integrator), hands new work tiles to the camera kernel,
// picks the kernel with the most queued paths, builds its launch indices and
// keeps the path arrays dense by compacting terminated slots away.
//
// # Quick Start
//
//	s, err := wavefront.New(wavefront.DefaultConfig(),
//	    wavefront.WithKernels(kernels),
//	    wavefront.WithCamera(camera),
//	)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	tiles, err := s.NewWorkTiles(
//	    wavefront.BufferParams{Width: 1920, Height: 1080},
//	    wavefront.SampleRange{Num: 64},
//	)
//	if err != nil {
//	    return err
//	}
//	err = s.Render(ctx, tiles)
//
// # Kernels
//
// A KernelFunc receives the launch indices of its kernel and must end every
// path it processes with exactly one lifecycle transition on the State
// (PathNext, PathNextSorted, PathTerminate, or the shadow equivalents).
// KernelContext.ForEach runs a function per index on the SIMT launcher.
//
// # Sorting
//
// Kernels that shade surfaces can be launched in shader sort key order.
// Config.Sort selects "atomic" (per-key counters turned into offsets with a
// prefix sum) or "partitioned" (a block-local bucket sort per partition of
// the path array). "none" launches in index order.
//
// # GPU index builds
//
// Importing package gpu registers a wgpu accelerator. With Config.UseGPU set
// the scheduler builds its main-array launch indices on the device and falls
// back to the CPU when the accelerator fails.
//
// # Configuration
//
// LoadConfig reads a YAML or JSON file and applies WAVEFRONT_* environment
// overrides on top of DefaultConfig.
//
// # Observability
//
// Logging goes through log/slog and is silent until SetLogger is called.
// WithMetrics registers Prometheus collectors and WithTracerProvider sets
// the OpenTelemetry tracer used for render and kernel spans.
package wavefront
