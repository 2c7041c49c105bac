package wavefront

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gogpu/wavefront/integrator"
)

func TestWithKernel(t *testing.T) {
	fn := func(context.Context, *KernelContext) error { return nil }

	o := defaultOptions()
	WithKernel(integrator.KernelShadeSurface, fn)(&o)
	WithKernel(integrator.NumKernels, fn)(&o) // out of range, ignored

	for k := range integrator.NumKernels {
		if got := o.kernels[k] != nil; got != (k == integrator.KernelShadeSurface) {
			t.Errorf("kernel %v registered = %v", k, got)
		}
	}
}

func TestWithKernels(t *testing.T) {
	fn := func(context.Context, *KernelContext) error { return nil }

	o := defaultOptions()
	WithKernels(map[integrator.DeviceKernel]KernelFunc{
		integrator.KernelIntersectClosest: fn,
		integrator.KernelShadeShadow:      fn,
	})(&o)
	if o.kernels[integrator.KernelIntersectClosest] == nil || o.kernels[integrator.KernelShadeShadow] == nil {
		t.Error("WithKernels did not register every kernel")
	}
}

func TestWithTracerProvider(t *testing.T) {
	o := defaultOptions()
	if o.tracer == nil {
		t.Fatal("default tracer is nil")
	}
	def := o.tracer

	WithTracerProvider(nil)(&o)
	if o.tracer != def {
		t.Error("nil provider should keep the default tracer")
	}
	WithTracerProvider(noop.NewTracerProvider())(&o)
	if o.tracer == def {
		t.Error("provider tracer was not installed")
	}
}

func TestWithMetricsAndCamera(t *testing.T) {
	reg := prometheus.NewRegistry()
	cam := integrator.CameraFunc(func(*integrator.State, int, uint32, uint32, uint32) bool { return true })

	o := defaultOptions()
	WithMetrics(reg)(&o)
	WithCamera(cam)(&o)
	if o.registerer != reg {
		t.Error("registerer not set")
	}
	if o.camera == nil {
		t.Error("camera not set")
	}
}
