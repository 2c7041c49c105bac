package compute

import "github.com/gogpu/wavefront/simt"

// Device runs compute kernels on a launcher.
type Device struct {
	l *simt.Launcher
}

// NewDevice returns a device dispatching on l. The launcher stays owned by
// the caller.
func NewDevice(l *simt.Launcher) *Device {
	return &Device{l: l}
}

// Launcher returns the underlying launcher.
func (d *Device) Launcher() *simt.Launcher { return d.l }

// Predicate selects states by index.
type Predicate func(state int) bool

// KeyFunc returns the sort key of a state and whether the state takes part
// in the sort.
type KeyFunc func(state int) (key uint32, ok bool)

// grid is the per-thread loop shared by kernels without block cooperation.
func (d *Device) grid(numThreads int, fn func(thread int)) {
	simt.Launch[struct{}](d.l, d.l.BlocksFor(numThreads), nil, func(w *simt.Warp, _ *struct{}) {
		for lane := range w.Width() {
			if i := w.Global(lane); i < numThreads {
				fn(i)
			}
		}
	})
}
