//go:build !nogpu

package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // register the Vulkan backend
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("gpu: accelerator closed")

// Accelerator owns (or borrows) a GPU device and the index dispatcher
// running on it.
//
// The device is opened lazily on first use. A host application that already
// has a device hands it over with SetDeviceProvider; the accelerator then
// never destroys it.
type Accelerator struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	adapter  string

	dispatcher     *IndexDispatcher
	externalDevice bool
	closed         bool
}

// NewAccelerator returns an accelerator that opens its own device on first
// use.
func NewAccelerator() *Accelerator {
	return &Accelerator{}
}

// SetLogger sets the logger of the GPU package. nil silences it.
func (a *Accelerator) SetLogger(l *slog.Logger) {
	logger.Store(l)
}

var (
	logger  atomic.Pointer[slog.Logger]
	discard = slog.New(slog.DiscardHandler)
)

func slogger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return discard
}

// Dispatcher returns the initialized dispatcher, opening the device if
// needed.
func (a *Accelerator) Dispatcher() (*IndexDispatcher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if a.dispatcher != nil {
		return a.dispatcher, nil
	}
	if a.device == nil {
		if err := a.initGPU(); err != nil {
			return nil, err
		}
	}
	d := NewIndexDispatcher(a.device, a.queue)
	if err := d.Init(); err != nil {
		return nil, err
	}
	a.dispatcher = d
	return d, nil
}

// Adapter returns the name of the opened adapter, or "" for a borrowed or
// not yet opened device.
func (a *Accelerator) Adapter() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adapter
}

// SetDeviceProvider switches the accelerator to a device shared by the host.
// The provider must also expose HalDevice() and HalQueue() returning
// hal.Device and hal.Queue.
func (a *Accelerator) SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("gpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("gpu: provider HalQueue is not hal.Queue")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.releaseLocked()
	a.device = device
	a.queue = queue
	a.externalDevice = true
	a.closed = false

	slogger().Info("gpu: using shared device")
	return nil
}

// Close releases the dispatcher and any device the accelerator opened.
// Close is safe to call multiple times.
func (a *Accelerator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.releaseLocked()
	a.closed = true
}

func (a *Accelerator) releaseLocked() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
		a.dispatcher = nil
	}
	if !a.externalDevice && a.device != nil {
		a.device.Destroy()
	}
	if a.instance != nil {
		a.instance.Destroy()
		a.instance = nil
	}
	a.device = nil
	a.queue = nil
	a.adapter = ""
	a.externalDevice = false
}

// initGPU opens the first discrete or integrated Vulkan adapter.
func (a *Accelerator) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("gpu: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("gpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return fmt.Errorf("gpu: no GPU adapters found")
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("gpu: open device: %w", err)
	}
	a.instance = instance
	a.device = openDev.Device
	a.queue = openDev.Queue
	a.adapter = selected.Info.Name

	slogger().Info("gpu: device opened", "adapter", selected.Info.Name)
	return nil
}
