package compute

import (
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/gogpu/wavefront/integrator"
	"github.com/gogpu/wavefront/simt"
)

func newTestDevice(t testing.TB, blockSize int, lanes simt.LaneGroup) *Device {
	t.Helper()
	l, err := simt.NewLauncher(simt.Config{BlockSize: blockSize, Lanes: lanes, Workers: 4})
	if err != nil {
		t.Fatalf("NewLauncher: %v", err)
	}
	t.Cleanup(l.Close)
	return NewDevice(l)
}

var laneConfigs = []struct {
	name      string
	blockSize int
	lanes     simt.LaneGroup
}{
	{"wave32x256", 256, simt.Wave32{}},
	{"wave64x128", 128, simt.Wave64{}},
	{"serial x8", 8, simt.Serial{}},
}

// =============================================================================
// Prefix Sum
// =============================================================================

func TestPrefixSum(t *testing.T) {
	counter := make([]atomic.Uint32, 5)
	prefix := make([]atomic.Uint32, 5)
	for i, v := range []uint32{3, 0, 2, 5, 1} {
		counter[i].Store(v)
	}

	if total := PrefixSum(counter, prefix); total != 11 {
		t.Errorf("total = %d, want 11", total)
	}
	want := []uint32{0, 3, 3, 5, 10}
	for i := range prefix {
		if prefix[i].Load() != want[i] {
			t.Errorf("prefix[%d] = %d, want %d", i, prefix[i].Load(), want[i])
		}
		if counter[i].Load() != 0 {
			t.Errorf("counter[%d] = %d after scan, want 0", i, counter[i].Load())
		}
	}

	// Second call claims nothing and leaves the result alone.
	if total := PrefixSum(counter, prefix); total != 0 {
		t.Errorf("second total = %d, want 0", total)
	}
	for i := range prefix {
		if prefix[i].Load() != want[i] {
			t.Errorf("second call changed prefix[%d] to %d", i, prefix[i].Load())
		}
		if counter[i].Load() != 0 {
			t.Errorf("second call left counter[%d] = %d", i, counter[i].Load())
		}
	}
}

// =============================================================================
// Active Index
// =============================================================================

func TestActiveIndex_Scenario(t *testing.T) {
	d := newTestDevice(t, 64, simt.Wave32{})
	queued := []uint32{1, 0, 1, 1, 0, 0, 1, 0}
	indices := make([]int32, len(queued))

	n := d.ActiveIndexCount(len(queued), func(i int) bool { return queued[i] != 0 }, indices)
	if n != 4 {
		t.Fatalf("num_indices = %d, want 4", n)
	}
	got := slices.Sorted(slices.Values(indices[:n]))
	if !slices.Equal(got, []int32{0, 2, 3, 6}) {
		t.Errorf("indices = %v, want {0,2,3,6}", got)
	}
}

func TestActiveIndex_ExactAndPartition(t *testing.T) {
	sizes := []int{0, 1, 31, 32, 33, 255, 256, 257, 1000, 4097, 10000}

	for _, cfg := range laneConfigs {
		t.Run(cfg.name, func(t *testing.T) {
			d := newTestDevice(t, cfg.blockSize, cfg.lanes)
			rng := rand.New(rand.NewPCG(7, uint64(cfg.blockSize)))

			for _, n := range sizes {
				flags := make([]bool, n)
				want := 0
				for i := range flags {
					flags[i] = rng.IntN(3) == 0
					if flags[i] {
						want++
					}
				}

				in := make([]int32, n)
				out := make([]int32, n)
				nIn := d.ActiveIndexCount(n, func(i int) bool { return flags[i] }, in)
				nOut := d.ActiveIndexCount(n, func(i int) bool { return !flags[i] }, out)

				if nIn != want {
					t.Fatalf("N=%d: num_indices = %d, want %d", n, nIn, want)
				}
				if nIn+nOut != n {
					t.Fatalf("N=%d: %d + %d selected, want %d", n, nIn, nOut, n)
				}

				seen := make([]int, n)
				for _, i := range in[:nIn] {
					if !flags[i] {
						t.Fatalf("N=%d: index %d selected but predicate false", n, i)
					}
					seen[i]++
				}
				for _, i := range out[:nOut] {
					seen[i]++
				}
				for i, c := range seen {
					if c != 1 {
						t.Fatalf("N=%d: index %d appears %d times across both sets", n, i, c)
					}
				}
			}
		})
	}
}

func TestActiveIndex_AppendsAtCounter(t *testing.T) {
	d := newTestDevice(t, 32, simt.Wave32{})
	indices := make([]int32, 20)
	var count atomic.Uint32
	count.Store(10)

	d.ActiveIndex(40, func(i int) bool { return i%4 == 0 }, indices, &count)
	if count.Load() != 20 {
		t.Fatalf("count = %d, want 20", count.Load())
	}
	got := slices.Sorted(slices.Values(indices[10:20]))
	for j, v := range got {
		if v != int32(j*4) {
			t.Fatalf("indices[10:] = %v", got)
		}
	}
}

// =============================================================================
// Sorted Index
// =============================================================================

// checkGrouped verifies that equal keys form runs and returns the run order.
func checkGrouped(t *testing.T, indices []int32, keyOf func(int32) uint32) []uint32 {
	t.Helper()
	var runs []uint32
	closed := map[uint32]bool{}
	for p, idx := range indices {
		k := keyOf(idx)
		if p > 0 && keyOf(indices[p-1]) == k {
			continue
		}
		if closed[k] {
			t.Fatalf("key %d appears in two separate runs (position %d)", k, p)
		}
		closed[k] = true
		runs = append(runs, k)
	}
	return runs
}

func TestSortedIndexAtomic_GroupsByKey(t *testing.T) {
	d := newTestDevice(t, 64, simt.Wave32{})
	const n, numKeys = 3000, 7
	rng := rand.New(rand.NewPCG(3, 4))

	keys := make([]uint32, n)
	active := make([]bool, n)
	counter := make([]atomic.Uint32, numKeys)
	prefix := make([]atomic.Uint32, numKeys)
	want := 0
	for i := range keys {
		keys[i] = uint32(rng.IntN(numKeys))
		active[i] = rng.IntN(4) != 0
		if active[i] {
			counter[keys[i]].Add(1)
			want++
		}
	}
	key := func(i int) (uint32, bool) { return keys[i], active[i] }

	total := PrefixSum(counter, prefix)
	if int(total) != want {
		t.Fatalf("claimed %d, want %d", total, want)
	}
	indices := make([]int32, want)
	d.SortedIndexAtomic(n, want, key, counter, prefix, indices)

	runs := checkGrouped(t, indices, func(i int32) uint32 { return keys[i] })
	if !slices.IsSorted(runs) {
		t.Errorf("runs not in key order: %v", runs)
	}
	seen := map[int32]bool{}
	for _, i := range indices {
		if !active[i] || seen[i] {
			t.Fatalf("index %d invalid or duplicated", i)
		}
		seen[i] = true
	}
	for k := range counter {
		if counter[k].Load() != 0 {
			t.Errorf("counter[%d] = %d with no overflow", k, counter[k].Load())
		}
	}
}

func TestSortedIndexAtomic_OverflowDefers(t *testing.T) {
	d := newTestDevice(t, 32, simt.Wave32{})
	keys := []uint32{2, 0, 1, 0, 2, 1, 0, 2}
	counter := make([]atomic.Uint32, 3)
	prefix := make([]atomic.Uint32, 3)
	for _, k := range keys {
		counter[k].Add(1)
	}
	key := func(i int) (uint32, bool) { return keys[i], true }

	const limit = 5
	PrefixSum(counter, prefix)
	indices := make([]int32, limit)
	d.SortedIndexAtomic(len(keys), limit, key, counter, prefix, indices)

	// Keys 0 (3 states) and 1 (2 states) fit; the three key-2 states defer.
	for p, i := range indices {
		want := uint32(0)
		if p >= 3 {
			want = 1
		}
		if keys[i] != want {
			t.Errorf("position %d has key %d, want %d", p, keys[i], want)
		}
	}
	if counter[2].Load() != 3 {
		t.Errorf("deferred key-2 count = %d, want 3", counter[2].Load())
	}

	// Next step picks the deferred states up.
	if total := PrefixSum(counter, prefix); total != 3 {
		t.Fatalf("retry claimed %d, want 3", total)
	}
	retry := make([]int32, 3)
	onlyTwo := func(i int) (uint32, bool) { return keys[i], keys[i] == 2 }
	d.SortedIndexAtomic(len(keys), limit, onlyTwo, counter, prefix, retry)
	if got := slices.Sorted(slices.Values(retry)); !slices.Equal(got, []int32{0, 4, 7}) {
		t.Errorf("retry = %v, want [0 4 7]", got)
	}
}

func TestSortedIndexPartitioned(t *testing.T) {
	for _, cfg := range laneConfigs {
		t.Run(cfg.name, func(t *testing.T) {
			d := newTestDevice(t, cfg.blockSize, cfg.lanes)
			const n, numKeys, partitionSize = 5000, 5, 700
			rng := rand.New(rand.NewPCG(11, 12))

			keys := make([]uint32, n)
			active := make([]bool, n)
			want := 0
			for i := range keys {
				keys[i] = uint32(rng.IntN(numKeys))
				active[i] = rng.IntN(2) == 0
				if active[i] {
					want++
				}
			}
			key := func(i int) (uint32, bool) { return keys[i], active[i] }

			numPartitions := NumPartitions(n, partitionSize)
			offsets := make([]uint32, PartitionOffsetsLen(numKeys, numPartitions))
			indices := make([]int32, want)

			got := d.SortedIndexPartitioned(n, want, partitionSize, numKeys, key, offsets, indices)
			if got != want {
				t.Fatalf("wrote %d, want %d", got, want)
			}

			// Composite key: band first, then shader.
			composite := func(i int32) uint32 {
				return keys[i] + numKeys*uint32(int(i)/partitionSize)
			}
			runs := checkGrouped(t, indices, composite)
			if !slices.IsSorted(runs) {
				t.Errorf("runs not in composite key order: %v", runs)
			}
			seen := map[int32]bool{}
			for _, i := range indices {
				if !active[i] || seen[i] {
					t.Fatalf("index %d invalid or duplicated", i)
				}
				seen[i] = true
			}
		})
	}
}

func TestSortedIndexPartitioned_LimitSkips(t *testing.T) {
	d := newTestDevice(t, 32, simt.Wave32{})
	const n = 100
	key := func(i int) (uint32, bool) { return uint32(i % 3), true }
	offsets := make([]uint32, PartitionOffsetsLen(3, NumPartitions(n, 32)))
	indices := make([]int32, 40)
	for i := range indices {
		indices[i] = -1
	}

	if got := d.SortedIndexPartitioned(n, 40, 32, 3, key, offsets, indices); got != 40 {
		t.Fatalf("wrote %d, want limit 40", got)
	}
	for p, i := range indices {
		if i < 0 {
			t.Fatalf("slot %d below the limit left empty", p)
		}
	}
	// The first 40 slots are partition 0 (32 states) and the first 8 of
	// partition 1.
	for _, i := range indices[:32] {
		if i >= 32 {
			t.Errorf("partition 0 run contains %d", i)
		}
	}
}

func TestSortedIndexPartitioned_Empty(t *testing.T) {
	d := newTestDevice(t, 32, simt.Wave32{})
	if got := d.SortedIndexPartitioned(0, 10, 32, 4, nil, nil, nil); got != 0 {
		t.Errorf("empty sort wrote %d", got)
	}
}

// =============================================================================
// Compaction
// =============================================================================

func TestCompactStates_Scenario(t *testing.T) {
	d := newTestDevice(t, 32, simt.Wave32{})
	s, err := integrator.NewState(integrator.StateConfig{MaxPaths: 4, MaxShadowPaths: 1, DebugChecks: true})
	if err != nil {
		t.Fatal(err)
	}
	for i := range 4 {
		s.PathInit(i, integrator.KernelIntersectClosest)
		s.Paths[i].RenderPixelIndex = uint32(100 + i)
	}
	s.PathTerminate(1, integrator.KernelIntersectClosest)
	s.PathTerminate(2, integrator.KernelIntersectClosest)

	live := int(s.NumActivePaths())
	terminated := make([]int32, 4)
	nt := d.ActiveIndexCount(live, QueueFilter{Mode: FilterTerminated}.Paths(s), terminated)
	active := make([]int32, 4)
	na := d.ActiveIndexCount(s.MaxPaths(), QueueFilter{Mode: FilterActiveFrom, Threshold: live}.Paths(s), active)
	if nt != na || nt != 1 {
		t.Fatalf("terminated-within = %d, active-beyond = %d; want 1, 1", nt, na)
	}

	CompactStates(d, s.Paths, active[:na], terminated[:nt], ReleasePath)

	pixels := []uint32{s.Paths[0].RenderPixelIndex, s.Paths[1].RenderPixelIndex}
	slices.Sort(pixels)
	if !slices.Equal(pixels, []uint32{100, 103}) {
		t.Errorf("live prefix holds pixels %v, want {100,103}", pixels)
	}
	for i := range 2 {
		if s.Paths[i].QueuedKernel == integrator.KernelNone {
			t.Errorf("slot %d in live prefix is terminated", i)
		}
	}
	for i := 2; i < 4; i++ {
		if s.Paths[i].QueuedKernel != integrator.KernelNone {
			t.Errorf("slot %d beyond live count still queued", i)
		}
	}
	if s.NumActivePaths() != 2 {
		t.Errorf("live_count = %d, want 2", s.NumActivePaths())
	}
}

func TestQueueFilter_Match(t *testing.T) {
	k := integrator.KernelShadeSurface
	tests := []struct {
		f      QueueFilter
		index  int
		queued integrator.DeviceKernel
		want   bool
	}{
		{QueueFilter{Mode: FilterQueued, Kernel: k}, 0, k, true},
		{QueueFilter{Mode: FilterQueued, Kernel: k}, 0, integrator.KernelShadeVolume, false},
		{QueueFilter{Mode: FilterActive}, 0, k, true},
		{QueueFilter{Mode: FilterActive}, 0, integrator.KernelNone, false},
		{QueueFilter{Mode: FilterTerminated}, 0, integrator.KernelNone, true},
		{QueueFilter{Mode: FilterActiveFrom, Threshold: 5}, 4, k, false},
		{QueueFilter{Mode: FilterActiveFrom, Threshold: 5}, 5, k, true},
	}
	for _, tt := range tests {
		if got := tt.f.Match(tt.index, tt.queued); got != tt.want {
			t.Errorf("%v.Match(%d, %v) = %v, want %v", tt.f.Mode, tt.index, tt.queued, got, tt.want)
		}
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkActiveIndex(b *testing.B) {
	d := newTestDevice(b, 256, simt.Wave32{})
	const n = 1 << 18
	flags := make([]bool, n)
	for i := range flags {
		flags[i] = i%3 != 0
	}
	indices := make([]int32, n)
	pred := func(i int) bool { return flags[i] }

	b.ResetTimer()
	for range b.N {
		d.ActiveIndexCount(n, pred, indices)
	}
}
