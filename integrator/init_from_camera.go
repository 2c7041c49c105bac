package integrator

// Camera generates primary rays. GenerateRay fills the payload of
// s.Paths[path] for the given pixel and sample and returns false when no ray
// should be traced, in which case the path stays terminated.
type Camera interface {
	GenerateRay(s *State, path int, x, y, sample uint32) bool
}

// CameraFunc adapts a function to Camera.
type CameraFunc func(s *State, path int, x, y, sample uint32) bool

// GenerateRay calls f.
func (f CameraFunc) GenerateRay(s *State, path int, x, y, sample uint32) bool {
	return f(s, path, x, y, sample)
}

// InitFromCamera is the per-thread body of the camera kernel: it maps
// workIndex to a pixel and sample of tile, resets the path at
// tile.PathIndexOffset+workIndex and, when the camera produced a ray, queues
// it for the closest-hit intersection. It reports whether the path was
// queued.
func InitFromCamera(s *State, tile *KernelWorkTile, workIndex uint32, order WorkOrder, cam Camera) bool {
	if workIndex >= tile.WorkSize {
		return false
	}
	return InitFromCameraAt(s, tile, workIndex, int(tile.PathIndexOffset+workIndex), order, cam)
}

// InitFromCameraAt is InitFromCamera with the path slot chosen by the
// caller, used when new work fills terminated slots scattered between live
// paths.
func InitFromCameraAt(s *State, tile *KernelWorkTile, workIndex uint32, path int, order WorkOrder, cam Camera) bool {
	x, y, sample := tile.WorkPixel(workIndex, order)

	pixel := tile.RenderPixelIndex(x, y)
	s.Paths[path] = PathState{
		RenderPixelIndex: pixel,
		Sample:           sample,
		RNGHash:          pathSeed(pixel, sample+tile.SampleOffset),
		Throughput:       [3]float32{1, 1, 1},
		GuidingSegment:   NoGuidingSegment,
	}

	if !cam.GenerateRay(s, path, x, y, sample) {
		return false
	}
	s.PathInit(path, KernelIntersectClosest)
	return true
}

// pathSeed hashes a pixel and sample into the path's random seed.
func pathSeed(pixel, sample uint32) uint32 {
	h := pixel*0x9e3779b9 ^ sample*0x85ebca6b
	h ^= h >> 16
	h *= 0x7feb352d
	h ^= h >> 15
	h *= 0x846ca68b
	h ^= h >> 16
	return h
}
