package wavefront

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/wavefront/compute"
	"github.com/gogpu/wavefront/integrator"
	"github.com/gogpu/wavefront/simt"
)

const (
	// minCompactPaths is the used range below which compaction is skipped.
	minCompactPaths = 32

	// shadowCompactionRatio is the live fraction of the used shadow range
	// at or below which the shadow array is compacted.
	shadowCompactionRatio = 0.5
)

// KernelFunc is the body of one integrator kernel. It processes the states
// listed in kc.Indices and moves each of them to its next kernel, or
// terminates it, through the lifecycle API of kc.State.
type KernelFunc func(ctx context.Context, kc *KernelContext) error

// KernelContext is the launch of one kernel.
type KernelContext struct {
	// Kernel is the kernel being launched.
	Kernel integrator.DeviceKernel

	// State is the shared integrator state.
	State *integrator.State

	// Indices lists the states to process: shadow path indices for shadow
	// kernels, main path indices otherwise. Every listed state is queued
	// for Kernel and listed once.
	Indices []int32

	launcher *simt.Launcher
}

// ForEach calls fn with every index of kc.Indices, in parallel on the
// scheduler's workers. It returns the first error.
func (kc *KernelContext) ForEach(ctx context.Context, fn func(index int) error) error {
	return simt.ForEach(ctx, kc.launcher, len(kc.Indices), func(i int) error {
		return fn(int(kc.Indices[i]))
	})
}

// Scheduler drives the wavefront loop: it enqueues work tiles, picks the
// kernel with the most queued paths, builds its launch index and runs it,
// compacting the state arrays as they fragment.
//
// Thread safety: Render and Step serialize on the scheduler; kernels run
// in parallel inside a step.
type Scheduler struct {
	mu sync.Mutex

	cfg      Config
	state    *integrator.State
	launcher *simt.Launcher
	dev      *compute.Device
	kernels  [integrator.NumKernels]KernelFunc
	camera   integrator.Camera
	order    integrator.WorkOrder
	tracer   trace.Tracer
	metrics  *metrics

	accel         IndexAccelerator
	accelDisabled bool

	// indices holds the launch list; compactList the compaction pairs and
	// the free-slot list of tile enqueue.
	indices     []int32
	compactList []int32
	sortScratch *compute.SortScratch
	queuedSnap  []uint32
	keySnap     []uint32
	counterSnap []uint32

	// maxActivePath bounds the main path indices in use.
	maxActivePath int

	tiles  *WorkTileScheduler
	stats  Stats
	closed bool
}

// New creates a scheduler. cfg is validated first.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	lanes, err := simt.LanesForWidth(cfg.LaneWidth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	sortMode, err := integrator.ParseSortMode(cfg.Sort)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	state, err := integrator.NewState(integrator.StateConfig{
		MaxPaths:             cfg.MaxPaths,
		MaxShadowPaths:       cfg.shadowCapacity(),
		NumShaders:           uint32(cfg.NumShaders),
		SortPartitionDivisor: cfg.SortPartitionSize,
		Sort:                 sortMode,
		DebugChecks:          cfg.DebugChecks,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	launcher, err := simt.NewLauncher(simt.Config{
		BlockSize: cfg.BlockSize,
		Lanes:     lanes,
		Workers:   cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s := &Scheduler{
		cfg:      cfg,
		state:    state,
		launcher: launcher,
		dev:      compute.NewDevice(launcher),
		kernels:  o.kernels,
		camera:   o.camera,
		order:    integrator.WorkOrderFor(cfg.ScramblingDistance),
		tracer:   o.tracer,
		metrics:  newMetrics(o.registerer),
		accel:    o.accel,
	}
	if s.accel == nil && cfg.UseGPU {
		if s.accel = Accelerator(); s.accel == nil {
			Logger().Warn("wavefront: use_gpu set but no accelerator registered, building indices on the CPU")
		}
	}

	arrayLen := max(cfg.MaxPaths, cfg.shadowCapacity())
	s.indices = make([]int32, arrayLen)
	s.compactList = make([]int32, arrayLen)
	partitions := compute.NumPartitions(cfg.MaxPaths, cfg.sortPartitionSize())
	s.sortScratch = compute.NewSortScratch(state.NumSortKeys(), cfg.NumShaders, partitions)

	Logger().Debug("wavefront: scheduler created",
		"max_paths", cfg.MaxPaths,
		"max_shadow_paths", cfg.shadowCapacity(),
		"sort", sortMode.String(),
		"sort_keys", state.NumSortKeys(),
		"lanes", lanes.Width(),
		"block_size", cfg.BlockSize,
		"workers", launcher.Workers(),
		"work_order", s.order.String(),
	)
	return s, nil
}

// Config returns the scheduler's configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// State returns the integrator state shared with the kernels.
func (s *Scheduler) State() *integrator.State { return s.state }

// Launcher returns the launcher kernels run on.
func (s *Scheduler) Launcher() *simt.Launcher { return s.launcher }

// Stats returns a copy of the cumulative counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// NewWorkTiles returns the tiles of a render pass over p, sized so that a
// tile always fits the free space the scheduler guarantees at enqueue.
func (s *Scheduler) NewWorkTiles(p BufferParams, samples SampleRange) (*WorkTileScheduler, error) {
	w := NewWorkTileScheduler(s.cfg.TileSize)
	if err := w.Reset(p, samples, s.cfg.tileBudget()); err != nil {
		return nil, err
	}
	return w, nil
}

// Start makes tiles the source of new work for Step. Paths still in flight
// are kept.
func (s *Scheduler) Start(tiles *WorkTileScheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles = tiles
}

// Render runs tiles to completion: it returns when every tile has been
// enqueued and every path has terminated. Cancellation is observed between
// steps; the state is then left consistent and Render may be called again
// to finish.
//
// Render returns an error wrapping ErrShadowOverflow when kernels tried to
// spawn more shadow paths than the shadow array holds.
func (s *Scheduler) Render(ctx context.Context, tiles *WorkTileScheduler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	ctx, span := s.tracer.Start(ctx, "wavefront.Render",
		trace.WithAttributes(
			attribute.Int("tiles", tiles.Remaining()),
			attribute.Int("max_paths", s.cfg.MaxPaths),
		))
	defer span.End()

	s.tiles = tiles
	overflow := s.state.ShadowOverflow()
	launches := s.stats.TotalLaunches()
	Logger().Info("wavefront: render started", "tiles", tiles.Remaining())

	for {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "render canceled")
			return err
		}
		done, err := s.step(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if done {
			break
		}
	}

	launched := s.stats.TotalLaunches() - launches
	span.SetAttributes(attribute.Int64("launches", int64(launched)))
	if dropped := s.state.ShadowOverflow() - overflow; dropped > 0 {
		err := fmt.Errorf("%w: %d shadow paths dropped", ErrShadowOverflow, dropped)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	Logger().Info("wavefront: render finished",
		"launches", launched,
		"occupancy", s.stats.Occupancy(s.cfg.MaxPaths))
	return nil
}

// Step runs one scheduler iteration: a tile enqueue or one kernel launch.
// It reports true once no tile is left and every path has terminated.
func (s *Scheduler) Step(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.step(ctx)
}

func (s *Scheduler) step(ctx context.Context) (bool, error) {
	s.stats.Steps++

	enqueued, err := s.enqueueWorkTiles(ctx)
	if err != nil {
		return false, err
	}
	if !enqueued {
		launched, err := s.enqueuePathIteration(ctx)
		if err != nil {
			return false, err
		}
		if !launched {
			if s.tiles != nil && !s.tiles.Empty() {
				return false, fmt.Errorf("wavefront: no work fits with %d tiles left", s.tiles.Remaining())
			}
			return true, nil
		}
	}

	s.stats.PeakActivePaths = max(s.stats.PeakActivePaths, int(s.state.NumActivePaths()))
	s.metrics.observeQueues(s.state)
	return false, nil
}

// Close releases the workers. The accelerator is not closed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.launcher.Close()
}

// mostQueued returns the kernel with the most queued paths over both
// arrays; ties go to the lower kernel id.
func (s *Scheduler) mostQueued() (integrator.DeviceKernel, uint32) {
	main, shadow := s.state.Queue.Snapshot(), s.state.ShadowQueue.Snapshot()
	best, most := integrator.KernelNone, uint32(0)
	for k := range integrator.NumKernels {
		if n := main[k] + shadow[k]; n > most {
			best, most = k, n
		}
	}
	return best, most
}

// enqueueWorkTiles starts new paths from the tile source when the device
// would otherwise run out of work. New paths wait at the closest-hit
// intersection, so tiles are only added while that is the dominant kernel
// and the existing wavefront stays aligned with the new one.
func (s *Scheduler) enqueueWorkTiles(ctx context.Context) (bool, error) {
	if s.tiles == nil || s.tiles.Empty() {
		return false, nil
	}

	live := int(s.state.NumActivePaths())
	if live+int(s.state.NumActiveShadowPaths()) > 0 {
		if k, _ := s.mostQueued(); k != integrator.KernelIntersectClosest {
			return false, nil
		}
		if live > s.cfg.minActivePaths() {
			return false, nil
		}
	}
	if live == 0 {
		s.maxActivePath = 0
	}
	s.compactMainPaths(live)

	budget := s.cfg.MaxPaths - live
	var tiles []integrator.KernelWorkTile
	total := 0
	for {
		tile, ok := s.tiles.GetWork(budget - total)
		if !ok {
			break
		}
		tile.PathIndexOffset = uint32(total)
		total += int(tile.WorkSize)
		tiles = append(tiles, tile)
	}
	if len(tiles) == 0 {
		return false, nil
	}

	// A clean array takes the new paths right after the live prefix;
	// otherwise they fill terminated slots.
	var slots []int32
	if s.maxActivePath == live {
		for i := range tiles {
			tiles[i].PathIndexOffset += uint32(live)
		}
		s.maxActivePath = live + total
	} else {
		var count atomic.Uint32
		filter := compute.QueueFilter{Mode: compute.FilterTerminated}
		s.dev.ActiveIndex(s.cfg.MaxPaths, filter.Paths(s.state), s.compactList, &count)
		if int(count.Load()) < total {
			return false, fmt.Errorf("wavefront: %d free path slots for %d new paths", count.Load(), total)
		}
		slots = s.compactList[:total]
		for _, slot := range slots {
			s.maxActivePath = max(s.maxActivePath, int(slot)+1)
		}
	}

	return true, s.initFromCamera(ctx, tiles, slots, total)
}

func (s *Scheduler) initFromCamera(ctx context.Context, tiles []integrator.KernelWorkTile, slots []int32, total int) error {
	kernel := integrator.KernelInitFromCamera
	ctx, span := s.tracer.Start(ctx, "wavefront.kernel",
		trace.WithAttributes(
			attribute.String("kernel", kernel.String()),
			attribute.Int("work_size", total),
			attribute.Int("tiles", len(tiles)),
		))
	defer span.End()

	cam := s.camera
	if cam == nil {
		cam = integrator.CameraFunc(func(*integrator.State, int, uint32, uint32, uint32) bool { return true })
	}

	for i := range tiles {
		tile := &tiles[i]
		err := simt.ForEach(ctx, s.launcher, int(tile.WorkSize), func(work int) error {
			if slots == nil {
				integrator.InitFromCamera(s.state, tile, uint32(work), s.order, cam)
				return nil
			}
			path := int(slots[int(tile.PathIndexOffset)+work])
			integrator.InitFromCameraAt(s.state, tile, uint32(work), path, s.order, cam)
			return nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	s.stats.TilesEnqueued += uint64(len(tiles))
	s.stats.Launches[kernel]++
	s.stats.Paths[kernel] += uint64(total)
	s.metrics.tilesEnqueued(len(tiles))
	s.metrics.launch(kernel, total)
	Logger().Debug("wavefront: tiles enqueued",
		"tiles", len(tiles),
		"paths", total,
		"max_active_path", s.maxActivePath)
	return nil
}

// enqueuePathIteration launches the kernel with the most queued paths. It
// returns false when nothing is queued.
func (s *Scheduler) enqueuePathIteration(ctx context.Context) (bool, error) {
	kernel, queued := s.mostQueued()
	if kernel == integrator.KernelNone {
		return false, nil
	}

	limit := math.MaxInt
	if per := kernel.ShadowPathsPerState(); per > 0 {
		s.compactShadowPaths()
		used := min(int(s.state.NextShadowIndex()), s.state.MaxShadowPaths())
		free := s.state.MaxShadowPaths() - used
		limit = free / per

		// Drain shadow paths first when they block the kernel. With no
		// shadow path live the array is empty, so limit is at least 1.
		if free < int(queued) || limit == 0 {
			switch {
			case s.state.ShadowQueue.Load(integrator.KernelIntersectShadow) > 0:
				kernel, limit = integrator.KernelIntersectShadow, math.MaxInt
			case s.state.ShadowQueue.Load(integrator.KernelShadeShadow) > 0:
				kernel, limit = integrator.KernelShadeShadow, math.MaxInt
			}
		}
	}
	return true, s.launch(ctx, kernel, limit)
}

// launch builds the index of kernel and runs it over at most limit states.
func (s *Scheduler) launch(ctx context.Context, kernel integrator.DeviceKernel, limit int) error {
	fn := s.kernels[kernel]
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNoKernel, kernel)
	}

	var queued int
	if kernel.IsShadow() {
		queued = int(s.state.ShadowQueue.Load(kernel))
	} else {
		queued = int(s.state.Queue.Load(kernel))
	}
	workSize := min(queued, limit)

	var indices []int32
	switch {
	case kernel.IsShadow():
		indices = s.shadowIndex(kernel)
	case s.state.Sorted(kernel):
		indices = s.sortedIndex(kernel, workSize)
	default:
		indices = s.queuedIndex(kernel)
	}
	if s.state.DebugChecks() && len(indices) < workSize {
		panic(fmt.Sprintf("wavefront: %s index holds %d of %d queued paths", kernel, len(indices), workSize))
	}
	indices = indices[:min(len(indices), workSize)]

	ctx, span := s.tracer.Start(ctx, "wavefront.kernel",
		trace.WithAttributes(
			attribute.String("kernel", kernel.String()),
			attribute.Int("queued", queued),
			attribute.Int("work_size", len(indices)),
		))
	defer span.End()

	kc := &KernelContext{
		Kernel:   kernel,
		State:    s.state,
		Indices:  indices,
		launcher: s.launcher,
	}
	if err := fn(ctx, kc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("wavefront: kernel %s: %w", kernel, err)
	}

	s.stats.Launches[kernel]++
	s.stats.Paths[kernel] += uint64(len(indices))
	s.metrics.launch(kernel, len(indices))
	Logger().Debug("wavefront: kernel launched",
		"kernel", kernel.String(),
		"queued", queued,
		"work_size", len(indices))
	return nil
}

// queuedIndex lists the main paths queued for kernel.
func (s *Scheduler) queuedIndex(kernel integrator.DeviceKernel) []int32 {
	filter := compute.QueueFilter{Mode: compute.FilterQueued, Kernel: kernel}
	if idx, ok := s.gpuActiveIndex(filter); ok {
		return idx
	}
	var count atomic.Uint32
	s.dev.ActiveIndex(s.maxActivePath, filter.Paths(s.state), s.indices, &count)
	return s.indices[:count.Load()]
}

// shadowIndex lists the shadow paths queued for kernel.
func (s *Scheduler) shadowIndex(kernel integrator.DeviceKernel) []int32 {
	used := min(int(s.state.NextShadowIndex()), s.state.MaxShadowPaths())
	filter := compute.QueueFilter{Mode: compute.FilterQueued, Kernel: kernel}
	var count atomic.Uint32
	s.dev.ActiveIndex(used, filter.Shadows(s.state), s.indices, &count)
	return s.indices[:count.Load()]
}

// sortedIndex lists at most limit main paths queued for kernel, grouped by
// shader sort key.
func (s *Scheduler) sortedIndex(kernel integrator.DeviceKernel, limit int) []int32 {
	numStates := s.maxActivePath
	keys := compute.SortKeys(s.state, kernel)

	if s.state.SortMode() == integrator.SortPartitioned {
		if idx, ok := s.gpuSortedPartitioned(kernel, limit); ok {
			return idx
		}
		n := s.dev.SortedIndexPartitioned(numStates, limit, s.cfg.sortPartitionSize(), s.cfg.NumShaders,
			keys, s.sortScratch.PartitionKeyOffsets, s.indices)
		return s.indices[:n]
	}

	if idx, ok := s.gpuSortedAtomic(kernel, limit); ok {
		return idx
	}
	counters := s.state.SortKeyCounter(kernel)
	total := compute.PrefixSum(counters, s.sortScratch.KeyPrefixSum)
	s.dev.SortedIndexAtomic(numStates, limit, keys, counters, s.sortScratch.KeyPrefixSum, s.indices)
	return s.indices[:min(int(total), limit)]
}

// compactMainPaths moves live paths beyond the live count into terminated
// slots below it, so that index builds scan a dense prefix.
func (s *Scheduler) compactMainPaths(live int) {
	maxIdx := s.maxActivePath
	if maxIdx == 0 || maxIdx == live || maxIdx < minCompactPaths {
		return
	}
	n := s.compactPairs(live, maxIdx, func(f compute.QueueFilter) compute.Predicate {
		return f.Paths(s.state)
	})
	compute.CompactStates(s.dev, s.state.Paths, s.compactList[:n], s.compactList[live:live+n], compute.ReleasePath)
	s.maxActivePath = live

	s.stats.MainCompactions++
	s.stats.CompactedPaths += uint64(n)
	s.metrics.compaction("main")
	Logger().Debug("wavefront: compacted main paths", "moved", n, "live", live, "max_index", maxIdx)
}

// compactShadowPaths compacts the shadow array once at most half of its
// used range is live, and rewinds the shadow counter when none is.
func (s *Scheduler) compactShadowPaths() {
	maxIdx := min(int(s.state.NextShadowIndex()), s.state.MaxShadowPaths())
	if maxIdx == 0 {
		return
	}
	live := int(s.state.NumActiveShadowPaths())
	if live == 0 {
		s.state.SetNextShadowIndex(0)
		return
	}
	if maxIdx < minCompactPaths || float64(maxIdx)*shadowCompactionRatio < float64(live) {
		return
	}
	n := s.compactPairs(live, maxIdx, func(f compute.QueueFilter) compute.Predicate {
		return f.Shadows(s.state)
	})
	compute.CompactStates(s.dev, s.state.Shadows, s.compactList[:n], s.compactList[live:live+n], compute.ReleaseShadowPath)
	s.state.SetNextShadowIndex(uint32(live))

	s.stats.ShadowCompactions++
	s.stats.CompactedPaths += uint64(n)
	s.metrics.compaction("shadow")
	Logger().Debug("wavefront: compacted shadow paths", "moved", n, "live", live, "max_index", maxIdx)
}

// compactPairs writes the compaction sources (live states at index >= live)
// to compactList[0:n] and the destinations (terminated states below live)
// to compactList[live:live+n], and returns n. Both lists have the same
// length because live states number exactly live.
func (s *Scheduler) compactPairs(live, maxIdx int, over func(compute.QueueFilter) compute.Predicate) int {
	var count atomic.Uint32
	s.dev.ActiveIndex(maxIdx, over(compute.QueueFilter{Mode: compute.FilterActiveFrom, Threshold: live}), s.compactList, &count)
	sources := int(count.Load())

	count.Store(0)
	s.dev.ActiveIndex(live, over(compute.QueueFilter{Mode: compute.FilterTerminated}), s.compactList[live:], &count)
	holes := int(count.Load())

	if s.state.DebugChecks() && sources != holes {
		panic(fmt.Sprintf("wavefront: compaction found %d live paths beyond %d but %d holes below", sources, live, holes))
	}
	return min(sources, holes)
}

// gpuUsable reports whether index builds should try the accelerator.
func (s *Scheduler) gpuUsable() bool {
	return s.accel != nil && !s.accelDisabled
}

// gpuFailed records a fallback. Errors other than ErrFallbackToCPU disable
// the accelerator for the rest of the scheduler's life.
func (s *Scheduler) gpuFailed(op string, err error) {
	s.stats.GPUFallbacks++
	s.metrics.fallback()
	if errors.Is(err, ErrFallbackToCPU) {
		Logger().Debug("wavefront: accelerator declined", "op", op, "err", err)
		return
	}
	s.accelDisabled = true
	Logger().Warn("wavefront: accelerator failed, building indices on the CPU",
		"accelerator", s.accel.Name(), "op", op, "err", err)
}

// snapshotQueued copies the queued-kernel registers of the main paths below
// maxActivePath, and their sort keys when withKeys is set.
func (s *Scheduler) snapshotQueued(withKeys bool) (queued, keys []uint32) {
	n := s.maxActivePath
	if cap(s.queuedSnap) < n {
		s.queuedSnap = make([]uint32, n, s.cfg.MaxPaths)
		s.keySnap = make([]uint32, n, s.cfg.MaxPaths)
	}
	queued = s.queuedSnap[:n]
	for i := range queued {
		queued[i] = uint32(s.state.Paths[i].QueuedKernel)
	}
	if !withKeys {
		return queued, nil
	}
	keys = s.keySnap[:n]
	for i := range keys {
		keys[i] = s.state.Paths[i].ShaderSortKey
	}
	return queued, keys
}

func (s *Scheduler) gpuActiveIndex(filter compute.QueueFilter) ([]int32, bool) {
	if !s.gpuUsable() || s.maxActivePath == 0 {
		return nil, false
	}
	queued, _ := s.snapshotQueued(false)
	idx, err := s.accel.ActiveIndex(queued, filter)
	if err != nil {
		s.gpuFailed("active_index", err)
		return nil, false
	}
	s.stats.GPUIndexBuilds++
	return idx, true
}

func (s *Scheduler) gpuSortedAtomic(kernel integrator.DeviceKernel, limit int) ([]int32, bool) {
	if !s.gpuUsable() || s.maxActivePath == 0 {
		return nil, false
	}
	queued, keys := s.snapshotQueued(true)

	// Claim the counters; they are restored on failure and receive the
	// deferred states on success.
	counters := s.state.SortKeyCounter(kernel)
	if len(s.counterSnap) < len(counters) {
		s.counterSnap = make([]uint32, len(counters))
	}
	claimed := s.counterSnap[:len(counters)]
	for k := range counters {
		claimed[k] = counters[k].Swap(0)
	}
	snapshot := append([]uint32(nil), claimed...)

	idx, err := s.accel.SortedIndexAtomic(queued, keys, claimed, kernel, min(limit, len(queued)))
	if err != nil {
		for k := range counters {
			counters[k].Add(snapshot[k])
		}
		s.gpuFailed("sorted_index_atomic", err)
		return nil, false
	}
	for k := range counters {
		counters[k].Add(claimed[k])
	}
	s.stats.GPUIndexBuilds++
	return idx, true
}

func (s *Scheduler) gpuSortedPartitioned(kernel integrator.DeviceKernel, limit int) ([]int32, bool) {
	if !s.gpuUsable() || s.maxActivePath == 0 {
		return nil, false
	}
	queued, keys := s.snapshotQueued(true)
	idx, err := s.accel.SortedIndexPartitioned(queued, keys, kernel,
		s.cfg.NumShaders, s.cfg.sortPartitionSize(), min(limit, len(queued)))
	if err != nil {
		s.gpuFailed("sorted_index_partitioned", err)
		return nil, false
	}
	s.stats.GPUIndexBuilds++
	return idx, true
}
