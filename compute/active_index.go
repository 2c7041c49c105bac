package compute

import (
	"sync/atomic"

	"github.com/gogpu/wavefront/simt"
)

type activeIndexShared struct {
	// warpOffset holds per-warp counts, then their exclusive scan.
	warpOffset []uint32
	base       uint32
}

// ActiveIndex writes the indices in [0, numStates) for which pred holds to
// indices, reserving output slots from numIndices. On return numIndices has
// grown by exactly the number of selected states. The order of the written
// indices is unspecified.
//
// indices must have room for every selected state past the initial value of
// numIndices; capacity is not checked.
func (d *Device) ActiveIndex(numStates int, pred Predicate, indices []int32, numIndices *atomic.Uint32) {
	numWarps := d.l.WarpsPerBlock()

	simt.Launch(d.l, d.l.BlocksFor(numStates),
		func(int) *activeIndexShared {
			return &activeIndexShared{warpOffset: make([]uint32, numWarps)}
		},
		func(w *simt.Warp, sh *activeIndexShared) {
			mask := w.Ballot(func(lane int) bool {
				i := w.Global(lane)
				return i < numStates && pred(i)
			})

			// Rank within the warp is implicit in the mask; publish the
			// warp total.
			sh.warpOffset[w.Index()] = w.Count(mask)
			w.Sync()

			// One thread scans the warp totals and reserves the block's
			// output range.
			if w.IsLast() {
				var offset uint32
				for i, n := range sh.warpOffset {
					sh.warpOffset[i] = offset
					offset += n
				}
				sh.base = numIndices.Add(offset) - offset
			}
			w.Sync()

			base := sh.base + sh.warpOffset[w.Index()]
			for lane := range w.Width() {
				if mask&(1<<uint(lane)) != 0 {
					indices[base+w.Rank(mask, lane)] = int32(w.Global(lane))
				}
			}
		})
}

// ActiveIndexCount is ActiveIndex into a fresh counter. It returns the number
// of indices written.
func (d *Device) ActiveIndexCount(numStates int, pred Predicate, indices []int32) int {
	var n atomic.Uint32
	d.ActiveIndex(numStates, pred, indices, &n)
	return int(n.Load())
}
