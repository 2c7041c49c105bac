package wavefront

import (
	"errors"
	"sync"

	"github.com/gogpu/wavefront/compute"
	"github.com/gogpu/wavefront/integrator"
)

// IndexAccelerator builds launch index arrays on a GPU.
//
// The arguments are host snapshots of the state arrays: queued holds the
// queued-kernel register of every state and sortKeys their shader sort keys.
// Any returned error makes the scheduler build the index on the CPU; return
// ErrFallbackToCPU for configurations the device cannot handle.
//
// Implementations are provided by the gpu sub-package, which registers
// itself on import:
//
//	import _ "github.com/gogpu/wavefront/gpu"
type IndexAccelerator interface {
	// Name returns the accelerator name.
	Name() string

	// Close releases device resources.
	Close()

	// ActiveIndex returns the states matching filter, in any order.
	ActiveIndex(queued []uint32, filter compute.QueueFilter) ([]int32, error)

	// SortedIndexAtomic claims keyCounter and returns at most limit states
	// queued for kernel grouped by key. Deferred states are added back to
	// keyCounter, which is updated in place.
	SortedIndexAtomic(queued, sortKeys, keyCounter []uint32, kernel integrator.DeviceKernel, limit int) ([]int32, error)

	// SortedIndexPartitioned bucket-sorts the states queued for kernel per
	// partition of partitionSize states and returns at most limit of them.
	SortedIndexPartitioned(queued, sortKeys []uint32, kernel integrator.DeviceKernel,
		numShaders, partitionSize, limit int) ([]int32, error)
}

var (
	accelMu sync.RWMutex
	accel   IndexAccelerator
)

// RegisterAccelerator installs the process-wide accelerator used by
// schedulers created with Config.UseGPU. A previously registered
// accelerator is closed.
func RegisterAccelerator(a IndexAccelerator) error {
	if a == nil {
		return errors.New("wavefront: accelerator must not be nil")
	}
	propagateLogger(a, Logger())

	accelMu.Lock()
	old := accel
	accel = a
	accelMu.Unlock()
	if old != nil && old != a {
		old.Close()
	}
	return nil
}

// Accelerator returns the registered accelerator, or nil.
func Accelerator() IndexAccelerator {
	accelMu.RLock()
	a := accel
	accelMu.RUnlock()
	return a
}

// deviceProviderAware is implemented by accelerators that can share a
// device with the host application.
type deviceProviderAware interface {
	SetDeviceProvider(provider any) error
}

// SetAcceleratorDeviceProvider hands a host GPU device to the registered
// accelerator. It is a no-op when no accelerator is registered or the
// accelerator cannot share devices.
func SetAcceleratorDeviceProvider(provider any) error {
	a := Accelerator()
	if a == nil {
		return nil
	}
	if dpa, ok := a.(deviceProviderAware); ok {
		return dpa.SetDeviceProvider(provider)
	}
	return nil
}
