package integrator

// KernelWorkTile is a rectangle of pixels and a range of samples, together
// with the contiguous block of path indices reserved for it.
type KernelWorkTile struct {
	X, Y uint32
	W, H uint32

	StartSample uint32
	NumSamples  uint32

	// SampleOffset is added to the sample index when seeding per-sample
	// random numbers, so split renders continue the same sequence.
	SampleOffset uint32

	// Offset and Stride map a pixel to its render buffer index.
	Offset int32
	Stride uint32

	// PathIndexOffset is the first path index of the tile; it owns
	// [PathIndexOffset, PathIndexOffset+WorkSize).
	PathIndexOffset uint32
	WorkSize        uint32
}

// WorkOrder selects how flat work indices enumerate pixels and samples.
type WorkOrder uint8

const (
	// PixelMajor keeps the samples of one pixel on adjacent threads.
	PixelMajor WorkOrder = iota
	// SampleMajor keeps one sample of all pixels on adjacent threads.
	SampleMajor
)

// String returns the order name.
func (o WorkOrder) String() string {
	if o == SampleMajor {
		return "sample-major"
	}
	return "pixel-major"
}

// sampleMajorThreshold is the scrambling distance below which samples of
// neighboring pixels become correlated enough that running them together is
// faster.
const sampleMajorThreshold = 0.9

// WorkOrderFor picks the work order for a scene's scrambling distance.
func WorkOrderFor(scramblingDistance float32) WorkOrder {
	if scramblingDistance < sampleMajorThreshold {
		return SampleMajor
	}
	return PixelMajor
}

// Size returns W*H*NumSamples, the number of paths the tile launches.
func (t *KernelWorkTile) Size() uint32 {
	return t.W * t.H * t.NumSamples
}

// WorkPixel maps a flat work index in [0, Size()) to a pixel and sample.
func (t *KernelWorkTile) WorkPixel(workIndex uint32, order WorkOrder) (x, y, sample uint32) {
	var pixelOffset, sampleOffset uint32
	if order == SampleMajor {
		pixels := t.W * t.H
		sampleOffset = workIndex / pixels
		pixelOffset = workIndex - sampleOffset*pixels
	} else {
		pixelOffset = workIndex / t.NumSamples
		sampleOffset = workIndex - pixelOffset*t.NumSamples
	}

	y = pixelOffset / t.W
	x = pixelOffset - y*t.W
	return t.X + x, t.Y + y, t.StartSample + sampleOffset
}

// RenderPixelIndex returns the render buffer index of pixel (x, y).
func (t *KernelWorkTile) RenderPixelIndex(x, y uint32) uint32 {
	return uint32(t.Offset + int32(x) + int32(y*t.Stride))
}
