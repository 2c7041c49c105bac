package wavefront

import "errors"

var (
	// ErrInvalidConfig is wrapped by every configuration validation error.
	ErrInvalidConfig = errors.New("wavefront: invalid config")

	// ErrNoKernel is returned when paths are queued for a kernel that has no
	// registered KernelFunc.
	ErrNoKernel = errors.New("wavefront: no kernel registered")

	// ErrFallbackToCPU indicates the accelerator cannot build an index.
	// The scheduler transparently builds it on the CPU instead.
	ErrFallbackToCPU = errors.New("wavefront: falling back to CPU index build")

	// ErrShadowOverflow is returned by Render when kernels tried to spawn
	// more shadow paths than the shadow array holds.
	ErrShadowOverflow = errors.New("wavefront: shadow path capacity exceeded")

	// ErrClosed is returned by a closed Scheduler.
	ErrClosed = errors.New("wavefront: scheduler closed")
)
