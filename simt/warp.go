package simt

// Warp is the execution context of one lock-step thread group.
//
// Lane-level code is written as loops over the lanes of the warp; Ballot and
// Sync are collective and must be reached by every warp of the block the same
// number of times.
type Warp struct {
	launcher *Launcher
	bar      *barrier
	block    int
	index    int
	width    int
	active   []bool
}

func newWarp(l *Launcher, block, index, width int, bar *barrier) *Warp {
	return &Warp{
		launcher: l,
		bar:      bar,
		block:    block,
		index:    index,
		width:    width,
		active:   make([]bool, width),
	}
}

// Width returns the number of lanes.
func (w *Warp) Width() int { return w.width }

// Index returns the warp index within its block.
func (w *Warp) Index() int { return w.index }

// NumWarps returns the number of warps in the block.
func (w *Warp) NumWarps() int { return w.launcher.numWarps }

// Block returns the block index within the grid.
func (w *Warp) Block() int { return w.block }

// BlockDim returns the number of threads per block.
func (w *Warp) BlockDim() int { return w.launcher.blockSize }

// IsLast reports whether this is the last warp of the block.
func (w *Warp) IsLast() bool { return w.index == w.launcher.numWarps-1 }

// Thread returns the block-local thread index of lane.
func (w *Warp) Thread(lane int) int { return w.index*w.width + lane }

// Global returns the grid-wide thread index of lane.
func (w *Warp) Global(lane int) int {
	return w.block*w.launcher.blockSize + w.Thread(lane)
}

// Ballot evaluates pred for every lane and returns the activity mask.
func (w *Warp) Ballot(pred func(lane int) bool) uint64 {
	for lane := range w.active {
		w.active[lane] = pred(lane)
	}
	return w.launcher.lanes.Ballot(w.active)
}

// Rank returns the number of active lanes of mask below lane.
func (w *Warp) Rank(mask uint64, lane int) uint32 {
	return w.launcher.lanes.Rank(mask, lane)
}

// Count returns the number of active lanes of mask.
func (w *Warp) Count(mask uint64) uint32 {
	return w.launcher.lanes.Count(mask)
}

// Sync is the block-wide barrier.
func (w *Warp) Sync() {
	w.bar.wait()
}
