package wavefront

import (
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/wavefront/integrator"
)

// BufferParams describes the render buffer that work tiles address.
type BufferParams struct {
	Width, Height int

	// Offset is the render buffer index of pixel (0, 0).
	Offset int32

	// Stride is the row pitch in pixels. 0 means Width.
	Stride int
}

// SampleRange is the range of samples a render pass takes per pixel.
type SampleRange struct {
	Start uint32
	Num   uint32

	// Offset shifts the seed of every sample, so that split renders
	// continue the same random sequence.
	Offset uint32
}

// WorkTileScheduler hands out the tiles of a render pass. A tile covers
// TileSize×TileSize pixels and a chunk of the sample range; the tiles of one
// sample chunk are all handed out before the next chunk starts, so every
// pixel converges at the same rate.
//
// Thread safety: WorkTileScheduler is safe for concurrent use.
type WorkTileScheduler struct {
	mu sync.Mutex

	params   BufferParams
	samples  SampleRange
	tileSize int
	tileEdge int

	tilesX, tilesY int
	chunkSamples   uint32
	next, total    int
}

// NewWorkTileScheduler returns a scheduler with the given maximum tile edge.
// Call Reset before handing out work.
func NewWorkTileScheduler(tileSize int) *WorkTileScheduler {
	return &WorkTileScheduler{tileSize: max(tileSize, 1)}
}

// Reset prepares the tiles of one render pass. The tile edge and the sample
// chunk are shrunk so that a single tile never needs more than maxWorkSize
// paths.
func (w *WorkTileScheduler) Reset(p BufferParams, samples SampleRange, maxWorkSize int) error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("wavefront: empty render buffer %dx%d", p.Width, p.Height)
	}
	if samples.Num == 0 {
		return fmt.Errorf("wavefront: render pass without samples")
	}
	if maxWorkSize <= 0 {
		return fmt.Errorf("wavefront: work size budget %d", maxWorkSize)
	}
	if p.Stride == 0 {
		p.Stride = p.Width
	}
	if p.Stride < p.Width {
		return fmt.Errorf("wavefront: stride %d smaller than width %d", p.Stride, p.Width)
	}

	tile := min(w.tileSize, max(p.Width, p.Height), int(math.Sqrt(float64(maxWorkSize))))
	tile = max(tile, 1)
	chunk := min(uint32(maxWorkSize/(tile*tile)), samples.Num)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.params = p
	w.samples = samples
	w.tilesX = (p.Width + tile - 1) / tile
	w.tilesY = (p.Height + tile - 1) / tile
	w.chunkSamples = max(chunk, 1)
	numChunks := int((samples.Num + w.chunkSamples - 1) / w.chunkSamples)
	w.total = w.tilesX * w.tilesY * numChunks
	w.next = 0
	w.tileEdge = tile
	return nil
}

// GetWork returns the next tile. It returns false when no tile is left or
// when the next tile needs more than maxWorkSize paths; in the latter case
// the tile stays pending.
func (w *WorkTileScheduler) GetWork(maxWorkSize int) (integrator.KernelWorkTile, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.next >= w.total {
		return integrator.KernelWorkTile{}, false
	}

	perChunk := w.tilesX * w.tilesY
	chunk, t := w.next/perChunk, w.next%perChunk
	x := (t % w.tilesX) * w.tileEdge
	y := (t / w.tilesX) * w.tileEdge

	start := w.samples.Start + uint32(chunk)*w.chunkSamples
	end := w.samples.Start + w.samples.Num
	tile := integrator.KernelWorkTile{
		X:            uint32(x),
		Y:            uint32(y),
		W:            uint32(min(w.tileEdge, w.params.Width-x)),
		H:            uint32(min(w.tileEdge, w.params.Height-y)),
		StartSample:  start,
		NumSamples:   min(w.chunkSamples, end-start),
		SampleOffset: w.samples.Offset,
		Offset:       w.params.Offset,
		Stride:       uint32(w.params.Stride),
	}
	tile.WorkSize = tile.Size()
	if int(tile.WorkSize) > maxWorkSize {
		return integrator.KernelWorkTile{}, false
	}
	w.next++
	return tile, true
}

// Empty reports whether every tile has been handed out.
func (w *WorkTileScheduler) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next >= w.total
}

// NumTiles returns the number of tiles of the pass.
func (w *WorkTileScheduler) NumTiles() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Remaining returns the number of tiles not yet handed out.
func (w *WorkTileScheduler) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total - w.next
}

// TileEdge returns the tile edge chosen by Reset.
func (w *WorkTileScheduler) TileEdge() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tileEdge
}
