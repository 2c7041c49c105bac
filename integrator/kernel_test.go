package integrator

import "testing"

func TestDeviceKernel_String(t *testing.T) {
	tests := []struct {
		k    DeviceKernel
		want string
	}{
		{KernelNone, "none"},
		{KernelIntersectClosest, "intersect_closest"},
		{KernelShadeSurfaceMNEE, "shade_surface_mnee"},
		{KernelShadeDedicatedLight, "shade_dedicated_light"},
		{NumKernels, "DeviceKernel(15)"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint32(tt.k), got, tt.want)
		}
	}
}

func TestParseKernel_RoundTrip(t *testing.T) {
	for k := range NumKernels {
		got, err := ParseKernel(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKernel(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKernel("shade_everything"); err == nil {
		t.Error("ParseKernel should reject unknown names")
	}
}

func TestDeviceKernel_Classes(t *testing.T) {
	if KernelNone.Valid() || KernelInitFromCamera.Valid() || NumKernels.Valid() {
		t.Error("none, init_from_camera and NumKernels must not be queueable")
	}
	if !KernelShadeShadow.IsShadow() || !KernelIntersectShadow.IsShadow() || KernelShadeSurface.IsShadow() {
		t.Error("IsShadow mismatch")
	}
	if !KernelShadeSurfaceRaytrace.UsesSorting() || KernelShadeVolume.UsesSorting() {
		t.Error("UsesSorting mismatch")
	}
	if KernelShadeSurfaceRaytrace.ShadowPathsPerState() != 2 || KernelShadeSurface.ShadowPathsPerState() != 1 ||
		KernelIntersectClosest.ShadowPathsPerState() != 0 {
		t.Error("ShadowPathsPerState mismatch")
	}
}

func TestQueueCounters_MostQueued(t *testing.T) {
	var q QueueCounters
	if k, n := q.MostQueued(); k != KernelNone || n != 0 {
		t.Errorf("empty MostQueued = %v, %d", k, n)
	}

	q.inc(KernelShadeSurface)
	q.inc(KernelIntersectClosest)
	q.inc(KernelIntersectClosest)
	q.inc(KernelShadeBackground)
	q.inc(KernelShadeBackground)

	// Ties resolve to the lower id.
	if k, n := q.MostQueued(); k != KernelIntersectClosest || n != 2 {
		t.Errorf("MostQueued = %v, %d; want intersect_closest, 2", k, n)
	}
	if q.Total() != 5 {
		t.Errorf("Total = %d, want 5", q.Total())
	}
	snap := q.Snapshot()
	if snap[KernelShadeSurface] != 1 {
		t.Errorf("Snapshot[shade_surface] = %d", snap[KernelShadeSurface])
	}
	q.Reset()
	if q.Total() != 0 {
		t.Error("Reset should zero all counters")
	}
}
