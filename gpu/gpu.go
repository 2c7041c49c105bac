//go:build !nogpu

// Package gpu registers the GPU index accelerator.
//
// Importing this package makes schedulers created with Config.UseGPU build
// their launch indices with wgpu/hal compute shaders. The device is opened
// on first use; when no Vulkan adapter is available the first index build
// fails and the scheduler falls back to the CPU for the rest of its life.
//
// Usage:
//
//	import _ "github.com/gogpu/wavefront/gpu" // enable GPU index builds
package gpu

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/wavefront"
	"github.com/gogpu/wavefront/compute"
	"github.com/gogpu/wavefront/integrator"
	gpuimpl "github.com/gogpu/wavefront/internal/gpu"
)

func init() {
	if err := wavefront.RegisterAccelerator(NewAccelerator()); err != nil {
		wavefront.Logger().Warn("GPU accelerator not available", "err", err)
	}
}

// Accelerator adapts the wgpu index dispatcher to wavefront.IndexAccelerator.
type Accelerator struct {
	impl *gpuimpl.Accelerator
}

// NewAccelerator returns an accelerator that opens its device lazily.
func NewAccelerator() *Accelerator {
	return &Accelerator{impl: gpuimpl.NewAccelerator()}
}

// Name returns "wgpu", qualified with the adapter once a device is open.
func (a *Accelerator) Name() string {
	if name := a.impl.Adapter(); name != "" {
		return "wgpu/" + name
	}
	return "wgpu"
}

// Close releases the device.
func (a *Accelerator) Close() { a.impl.Close() }

// SetLogger forwards the logger to the GPU package.
func (a *Accelerator) SetLogger(l *slog.Logger) { a.impl.SetLogger(l) }

// SetDeviceProvider switches to a device shared by the host. provider must
// be a gpucontext.DeviceProvider that also exposes its HAL device and queue.
func (a *Accelerator) SetDeviceProvider(provider any) error {
	dp, ok := provider.(gpucontext.DeviceProvider)
	if !ok {
		return fmt.Errorf("gpu: %T is not a gpucontext.DeviceProvider", provider)
	}
	return a.impl.SetDeviceProvider(dp)
}

// ActiveIndex implements wavefront.IndexAccelerator.
func (a *Accelerator) ActiveIndex(queued []uint32, filter compute.QueueFilter) ([]int32, error) {
	d, err := a.impl.Dispatcher()
	if err != nil {
		return nil, err
	}
	mode, err := filterMode(filter.Mode)
	if err != nil {
		return nil, err
	}
	return d.ActiveIndex(queued, gpuimpl.Config{
		Mode:      mode,
		Kernel:    uint32(filter.Kernel),
		Threshold: uint32(max(filter.Threshold, 0)),
	})
}

// SortedIndexAtomic implements wavefront.IndexAccelerator.
func (a *Accelerator) SortedIndexAtomic(queued, sortKeys, keyCounter []uint32,
	kernel integrator.DeviceKernel, limit int) ([]int32, error) {
	d, err := a.impl.Dispatcher()
	if err != nil {
		return nil, err
	}
	return d.SortedIndexAtomic(queued, sortKeys, keyCounter, gpuimpl.Config{
		Mode:   gpuimpl.ModeQueued,
		Kernel: uint32(kernel),
		Limit:  uint32(max(limit, 0)),
	})
}

// SortedIndexPartitioned implements wavefront.IndexAccelerator. Key counts
// beyond the workgroup bucket array are declined.
func (a *Accelerator) SortedIndexPartitioned(queued, sortKeys []uint32, kernel integrator.DeviceKernel,
	numShaders, partitionSize, limit int) ([]int32, error) {
	if numShaders > gpuimpl.MaxKeys {
		return nil, fmt.Errorf("%w: %d sort keys per partition", wavefront.ErrFallbackToCPU, numShaders)
	}
	d, err := a.impl.Dispatcher()
	if err != nil {
		return nil, err
	}
	return d.SortedIndexPartitioned(queued, sortKeys, gpuimpl.Config{
		Mode:          gpuimpl.ModeQueued,
		Kernel:        uint32(kernel),
		NumKeys:       uint32(numShaders),
		PartitionSize: uint32(partitionSize),
		Limit:         uint32(max(limit, 0)),
	})
}

func filterMode(m compute.FilterMode) (uint32, error) {
	switch m {
	case compute.FilterQueued:
		return gpuimpl.ModeQueued, nil
	case compute.FilterActive:
		return gpuimpl.ModeActive, nil
	case compute.FilterTerminated:
		return gpuimpl.ModeTerminated, nil
	case compute.FilterActiveFrom:
		return gpuimpl.ModeActiveFrom, nil
	}
	return 0, fmt.Errorf("%w: filter %s", wavefront.ErrFallbackToCPU, m)
}

// SetDeviceProvider hands a host device to the registered accelerator.
// It is a shorthand for wavefront.SetAcceleratorDeviceProvider.
func SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	return wavefront.SetAcceleratorDeviceProvider(provider)
}
