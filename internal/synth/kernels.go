package synth

import (
	"context"

	"github.com/gogpu/wavefront"
	"github.com/gogpu/wavefront/integrator"
)

// Kernels returns the kernel set rendering sc into film.
func Kernels(sc Scene, film *Film) map[integrator.DeviceKernel]wavefront.KernelFunc {
	w := &workload{scene: sc, film: film}
	return map[integrator.DeviceKernel]wavefront.KernelFunc{
		integrator.KernelIntersectClosest:        w.each(w.intersectClosest),
		integrator.KernelIntersectSubsurface:     w.each(w.intersectSubsurface),
		integrator.KernelIntersectVolumeStack:    w.each(w.intersectVolumeStack),
		integrator.KernelIntersectDedicatedLight: w.each(w.intersectDedicatedLight),
		integrator.KernelShadeBackground:         w.each(w.terminate),
		integrator.KernelShadeLight:              w.each(w.terminate),
		integrator.KernelShadeSurface:            w.each(w.shadeSurface),
		integrator.KernelShadeSurfaceRaytrace:    w.each(w.shadeSurface),
		integrator.KernelShadeSurfaceMNEE:        w.each(w.shadeSurface),
		integrator.KernelShadeVolume:             w.each(w.shadeVolume),
		integrator.KernelShadeDedicatedLight:     w.each(w.shadeDedicatedLight),
		integrator.KernelIntersectShadow:         w.each(w.intersectShadow),
		integrator.KernelShadeShadow:             w.each(w.shadeShadow),
	}
}

type workload struct {
	scene Scene
	film  *Film
}

type pathFunc func(s *integrator.State, k integrator.DeviceKernel, index int)

func (w *workload) each(fn pathFunc) wavefront.KernelFunc {
	return func(ctx context.Context, kc *wavefront.KernelContext) error {
		return kc.ForEach(ctx, func(index int) error {
			fn(kc.State, kc.Kernel, index)
			return nil
		})
	}
}

// next advances the path's seed and returns a uniform value in [0, 1).
func next(h *uint32) float32 {
	*h = hash(*h)
	return float32(*h>>8) / (1 << 24)
}

func hash(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func (w *workload) shaderKey(p *integrator.PathState) uint32 {
	return hash(p.RNGHash^0x9e3779b9) % uint32(w.scene.NumShaders)
}

func (w *workload) intersectClosest(s *integrator.State, k integrator.DeviceKernel, path int) {
	p := &s.Paths[path]
	u := next(&p.RNGHash)
	sc := &w.scene

	switch {
	case u < sc.Miss:
		s.PathNext(path, k, integrator.KernelShadeBackground)
	case u < sc.Miss+sc.Light:
		s.PathNext(path, k, integrator.KernelShadeLight)
	case u < sc.Miss+sc.Light+sc.Volume:
		s.PathNext(path, k, integrator.KernelShadeVolume)
	case u < sc.Miss+sc.Light+sc.Volume+sc.Raytrace:
		s.PathNextSorted(path, k, integrator.KernelShadeSurfaceRaytrace, w.shaderKey(p))
	case u < sc.Miss+sc.Light+sc.Volume+sc.Raytrace+sc.MNEE:
		s.PathNextSorted(path, k, integrator.KernelShadeSurfaceMNEE, w.shaderKey(p))
	default:
		s.PathNextSorted(path, k, integrator.KernelShadeSurface, w.shaderKey(p))
	}
}

// intersectSubsurface exits the object at a random shader.
func (w *workload) intersectSubsurface(s *integrator.State, k integrator.DeviceKernel, path int) {
	p := &s.Paths[path]
	p.Bounce.Transmission++
	s.PathNextSorted(path, k, integrator.KernelShadeSurface, w.shaderKey(p))
}

func (w *workload) intersectVolumeStack(s *integrator.State, k integrator.DeviceKernel, path int) {
	s.PathNext(path, k, integrator.KernelIntersectClosest)
}

func (w *workload) intersectDedicatedLight(s *integrator.State, k integrator.DeviceKernel, path int) {
	s.PathNext(path, k, integrator.KernelShadeDedicatedLight)
}

func (w *workload) terminate(s *integrator.State, k integrator.DeviceKernel, path int) {
	w.film.deposit(&s.Paths[path])
	s.PathTerminate(path, k)
}

func (w *workload) spawnShadows(s *integrator.State, k integrator.DeviceKernel, path int) {
	for range k.ShadowPathsPerState() {
		s.SpawnShadow(path, integrator.KernelIntersectShadow)
	}
}

// bounce ends the current vertex: the path continues at next, or deposits
// its sample once it reached the bounce limit.
func (w *workload) bounce(s *integrator.State, k integrator.DeviceKernel, path int, next integrator.DeviceKernel) {
	p := &s.Paths[path]
	p.Bounce.Total++
	if int(p.Bounce.Total) >= w.scene.MaxBounces {
		w.terminate(s, k, path)
		return
	}
	s.PathNext(path, k, next)
}

func (w *workload) shadeSurface(s *integrator.State, k integrator.DeviceKernel, path int) {
	p := &s.Paths[path]
	w.spawnShadows(s, k, path)
	p.Bounce.Diffuse++

	u := next(&p.RNGHash)
	switch {
	case int(p.Bounce.Total)+1 >= w.scene.MaxBounces:
		w.bounce(s, k, path, integrator.KernelIntersectClosest)
	case u < w.scene.Subsurface:
		p.Bounce.Total++
		s.PathNext(path, k, integrator.KernelIntersectSubsurface)
	case u < w.scene.Subsurface+w.scene.DedicatedLight:
		p.Bounce.Total++
		s.PathNext(path, k, integrator.KernelIntersectDedicatedLight)
	default:
		w.bounce(s, k, path, integrator.KernelIntersectClosest)
	}
}

func (w *workload) shadeVolume(s *integrator.State, k integrator.DeviceKernel, path int) {
	p := &s.Paths[path]
	w.spawnShadows(s, k, path)
	p.Bounce.Transparent++
	w.bounce(s, k, path, integrator.KernelIntersectVolumeStack)
}

func (w *workload) shadeDedicatedLight(s *integrator.State, k integrator.DeviceKernel, path int) {
	w.spawnShadows(s, k, path)
	w.bounce(s, k, path, integrator.KernelIntersectClosest)
}

func (w *workload) intersectShadow(s *integrator.State, k integrator.DeviceKernel, shadow int) {
	sh := &s.Shadows[shadow]
	if next(&sh.RNGHash) < 0.5 {
		// Occluded.
		s.ShadowPathTerminate(shadow, k)
		return
	}
	s.ShadowPathNext(shadow, k, integrator.KernelShadeShadow)
}

func (w *workload) shadeShadow(s *integrator.State, k integrator.DeviceKernel, shadow int) {
	w.film.depositShadow(&s.Shadows[shadow])
	s.ShadowPathTerminate(shadow, k)
}
