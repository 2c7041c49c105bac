package wavefront

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/wavefront/integrator"
)

// tracerName is the instrumentation scope of the scheduler's spans.
const tracerName = "github.com/gogpu/wavefront"

// Option configures a Scheduler during creation.
//
// Example:
//
//	s, err := wavefront.New(cfg,
//	    wavefront.WithCamera(cam),
//	    wavefront.WithKernel(integrator.KernelIntersectClosest, intersect),
//	)
type Option func(*options)

type options struct {
	kernels    [integrator.NumKernels]KernelFunc
	camera     integrator.Camera
	accel      IndexAccelerator
	registerer prometheus.Registerer
	tracer     trace.Tracer
}

func defaultOptions() options {
	return options{
		tracer: otel.Tracer(tracerName),
	}
}

// WithKernel registers the function launched for paths queued for k.
//
// Example:
//
//	wavefront.WithKernel(integrator.KernelShadeSurface, func(ctx context.Context, kc *wavefront.KernelContext) error {
//	    return kc.ForEach(ctx, func(path int) error {
//	        kc.State.PathNext(path, kc.Kernel, integrator.KernelIntersectClosest)
//	        return nil
//	    })
//	})
func WithKernel(k integrator.DeviceKernel, fn KernelFunc) Option {
	return func(o *options) {
		if k < integrator.NumKernels {
			o.kernels[k] = fn
		}
	}
}

// WithKernels registers a set of kernel functions at once.
func WithKernels(kernels map[integrator.DeviceKernel]KernelFunc) Option {
	return func(o *options) {
		for k, fn := range kernels {
			if k < integrator.NumKernels {
				o.kernels[k] = fn
			}
		}
	}
}

// WithCamera sets the primary ray generator of the init-from-camera kernel.
func WithCamera(cam integrator.Camera) Option {
	return func(o *options) {
		o.camera = cam
	}
}

// WithAccelerator builds launch indices on the given accelerator instead of
// the registered one. The scheduler does not close it.
func WithAccelerator(a IndexAccelerator) Option {
	return func(o *options) {
		o.accel = a
	}
}

// WithMetrics registers the scheduler's Prometheus collectors on reg.
// A registry holds the collectors of one scheduler.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	s, err := wavefront.New(cfg, wavefront.WithMetrics(reg))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTracerProvider makes the scheduler emit spans through tp instead of
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}
