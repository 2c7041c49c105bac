// Package synth provides a deterministic synthetic workload for the
// wavefront scheduler: kernels that move paths through the integrator
// graph by hashing their random seed instead of intersecting geometry.
//
// Every camera path terminates exactly once and deposits one sample into a
// Film, so a render is complete when every pixel holds the requested sample
// count.
package synth

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/wavefront/integrator"
)

// Scene holds the event probabilities of the synthetic workload. The
// probabilities of a closest-hit event are checked in order: miss, light,
// volume, raytraced surface, MNEE surface, plain surface.
type Scene struct {
	NumShaders int
	MaxBounces int

	Miss       float32
	Light      float32
	Volume     float32
	Raytrace   float32
	MNEE       float32
	Subsurface float32

	// DedicatedLight is the chance that a surface bounce also traces a
	// dedicated light ray.
	DedicatedLight float32
}

// DefaultScene returns a scene exercising every kernel.
func DefaultScene() Scene {
	return Scene{
		NumShaders:     16,
		MaxBounces:     6,
		Miss:           0.15,
		Light:          0.05,
		Volume:         0.10,
		Raytrace:       0.10,
		MNEE:           0.05,
		Subsurface:     0.10,
		DedicatedLight: 0.05,
	}
}

// Validate checks that probabilities are in [0, 1] and that the closest-hit
// events do not exceed 1 in total.
func (sc Scene) Validate() error {
	if sc.NumShaders <= 0 {
		return fmt.Errorf("synth: num shaders %d", sc.NumShaders)
	}
	if sc.MaxBounces <= 0 {
		return fmt.Errorf("synth: max bounces %d", sc.MaxBounces)
	}
	for _, p := range []float32{sc.Miss, sc.Light, sc.Volume, sc.Raytrace, sc.MNEE, sc.Subsurface, sc.DedicatedLight} {
		if p < 0 || p > 1 {
			return fmt.Errorf("synth: probability %g out of range", p)
		}
	}
	if sc.Miss+sc.Light+sc.Volume+sc.Raytrace+sc.MNEE > 1 {
		return fmt.Errorf("synth: closest-hit event probabilities exceed 1")
	}
	return nil
}

// Film accumulates per-pixel results. All methods are safe for concurrent
// use by kernel threads.
type Film struct {
	width, height int

	samples []atomic.Uint32
	bounces []atomic.Uint64
	shadows []atomic.Uint32
}

// NewFilm returns an empty film.
func NewFilm(width, height int) *Film {
	n := width * height
	return &Film{
		width:   width,
		height:  height,
		samples: make([]atomic.Uint32, n),
		bounces: make([]atomic.Uint64, n),
		shadows: make([]atomic.Uint32, n),
	}
}

// Width returns the film width in pixels.
func (f *Film) Width() int { return f.width }

// Height returns the film height in pixels.
func (f *Film) Height() int { return f.height }

// Samples returns the number of samples deposited at (x, y).
func (f *Film) Samples(x, y int) uint32 { return f.samples[y*f.width+x].Load() }

// Bounces returns the summed bounce depth of the samples at (x, y).
func (f *Film) Bounces(x, y int) uint64 { return f.bounces[y*f.width+x].Load() }

// ShadowRays returns the number of shadow rays that reached (x, y).
func (f *Film) ShadowRays(x, y int) uint32 { return f.shadows[y*f.width+x].Load() }

// TotalSamples returns the number of samples over the film.
func (f *Film) TotalSamples() uint64 {
	var n uint64
	for i := range f.samples {
		n += uint64(f.samples[i].Load())
	}
	return n
}

// TotalShadowRays returns the number of shadow rays over the film.
func (f *Film) TotalShadowRays() uint64 {
	var n uint64
	for i := range f.shadows {
		n += uint64(f.shadows[i].Load())
	}
	return n
}

// MeanBounces returns the average bounce depth per sample at every pixel,
// row by row.
func (f *Film) MeanBounces() []float64 {
	out := make([]float64, len(f.samples))
	for i := range out {
		if n := f.samples[i].Load(); n > 0 {
			out[i] = float64(f.bounces[i].Load()) / float64(n)
		}
	}
	return out
}

func (f *Film) deposit(p *integrator.PathState) {
	if int(p.RenderPixelIndex) >= len(f.samples) {
		return
	}
	f.samples[p.RenderPixelIndex].Add(1)
	f.bounces[p.RenderPixelIndex].Add(uint64(p.Bounce.Total))
}

func (f *Film) depositShadow(sh *integrator.ShadowPathState) {
	if int(sh.RenderPixelIndex) >= len(f.shadows) {
		return
	}
	f.shadows[sh.RenderPixelIndex].Add(1)
}

// Camera returns a camera that generates a ray for every sample.
func Camera() integrator.Camera {
	return integrator.CameraFunc(func(*integrator.State, int, uint32, uint32, uint32) bool {
		return true
	})
}
