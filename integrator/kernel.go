package integrator

import "fmt"

// DeviceKernel identifies a wavefront kernel. The zero value is the
// "not queued" register value of a terminated path.
type DeviceKernel uint32

// Kernels of the path-tracing integrator. InitFromCamera is launched over
// work tiles and never appears as a queued kernel.
const (
	KernelNone DeviceKernel = iota
	KernelInitFromCamera
	KernelIntersectClosest
	KernelIntersectShadow
	KernelIntersectSubsurface
	KernelIntersectVolumeStack
	KernelIntersectDedicatedLight
	KernelShadeBackground
	KernelShadeLight
	KernelShadeSurface
	KernelShadeSurfaceRaytrace
	KernelShadeSurfaceMNEE
	KernelShadeVolume
	KernelShadeShadow
	KernelShadeDedicatedLight

	// NumKernels is the size of per-kernel arrays, including KernelNone.
	NumKernels
)

var kernelNames = [NumKernels]string{
	KernelNone:                    "none",
	KernelInitFromCamera:          "init_from_camera",
	KernelIntersectClosest:        "intersect_closest",
	KernelIntersectShadow:         "intersect_shadow",
	KernelIntersectSubsurface:     "intersect_subsurface",
	KernelIntersectVolumeStack:    "intersect_volume_stack",
	KernelIntersectDedicatedLight: "intersect_dedicated_light",
	KernelShadeBackground:         "shade_background",
	KernelShadeLight:              "shade_light",
	KernelShadeSurface:            "shade_surface",
	KernelShadeSurfaceRaytrace:    "shade_surface_raytrace",
	KernelShadeSurfaceMNEE:        "shade_surface_mnee",
	KernelShadeVolume:             "shade_volume",
	KernelShadeShadow:             "shade_shadow",
	KernelShadeDedicatedLight:     "shade_dedicated_light",
}

// String returns the kernel name.
func (k DeviceKernel) String() string {
	if k < NumKernels {
		return kernelNames[k]
	}
	return fmt.Sprintf("DeviceKernel(%d)", uint32(k))
}

// Valid reports whether k is a kernel a path can be queued for.
func (k DeviceKernel) Valid() bool {
	return k > KernelInitFromCamera && k < NumKernels
}

// IsShadow reports whether k operates on the shadow path array.
func (k DeviceKernel) IsShadow() bool {
	return k == KernelIntersectShadow || k == KernelShadeShadow
}

// UsesSorting reports whether paths queued for k are grouped by shader key.
func (k DeviceKernel) UsesSorting() bool {
	switch k {
	case KernelShadeSurface, KernelShadeSurfaceRaytrace, KernelShadeSurfaceMNEE:
		return true
	}
	return false
}

// ShadowPathsPerState returns how many shadow paths one invocation of k may
// spawn per path. The scheduler uses it to keep spawning kernels within the
// free shadow capacity.
func (k DeviceKernel) ShadowPathsPerState() int {
	switch k {
	case KernelShadeSurfaceRaytrace:
		// Light sample plus ambient occlusion ray.
		return 2
	case KernelShadeSurface, KernelShadeSurfaceMNEE, KernelShadeVolume, KernelShadeDedicatedLight:
		return 1
	}
	return 0
}

// ParseKernel returns the kernel with the given String name.
func ParseKernel(name string) (DeviceKernel, error) {
	for k, n := range kernelNames {
		if n == name {
			return DeviceKernel(k), nil
		}
	}
	return KernelNone, fmt.Errorf("integrator: unknown kernel %q", name)
}
