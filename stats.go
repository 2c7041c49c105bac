package wavefront

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gogpu/wavefront/integrator"
)

// Stats are the cumulative counters of a Scheduler.
type Stats struct {
	// Steps counts scheduler iterations.
	Steps uint64

	// Launches and Paths count kernel launches and the paths they
	// processed, per kernel.
	Launches [integrator.NumKernels]uint64
	Paths    [integrator.NumKernels]uint64

	// TilesEnqueued counts work tiles handed to the camera kernel.
	TilesEnqueued uint64

	// MainCompactions and ShadowCompactions count compaction passes;
	// CompactedPaths counts the states they moved.
	MainCompactions   uint64
	ShadowCompactions uint64
	CompactedPaths    uint64

	// GPUIndexBuilds counts indices built by the accelerator and
	// GPUFallbacks the builds that fell back to the CPU.
	GPUIndexBuilds uint64
	GPUFallbacks   uint64

	// PeakActivePaths is the largest live main population observed.
	PeakActivePaths int
}

// TotalLaunches returns the number of kernel launches of all kernels.
func (st *Stats) TotalLaunches() uint64 {
	var n uint64
	for _, v := range st.Launches {
		n += v
	}
	return n
}

// Occupancy returns the average fraction of the path array processed per
// launch of the path iteration kernels, in [0, 1].
func (st *Stats) Occupancy(maxPaths int) float64 {
	var launches, paths uint64
	for k := integrator.KernelInitFromCamera + 1; k < integrator.NumKernels; k++ {
		launches += st.Launches[k]
		paths += st.Paths[k]
	}
	if launches == 0 || maxPaths <= 0 {
		return 0
	}
	return float64(paths) / float64(launches) / float64(maxPaths)
}

// metrics are the Prometheus collectors of a scheduler. A nil *metrics
// records nothing.
type metrics struct {
	launches    *prometheus.CounterVec
	paths       *prometheus.CounterVec
	workSize    prometheus.Histogram
	compactions *prometheus.CounterVec
	tiles       prometheus.Counter
	fallbacks   prometheus.Counter
	queued      *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &metrics{
		launches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wavefront_kernel_launches_total",
			Help: "Kernel launches by kernel",
		}, []string{"kernel"}),
		paths: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wavefront_kernel_paths_total",
			Help: "Paths processed by kernel",
		}, []string{"kernel"}),
		workSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavefront_launch_work_size",
			Help:    "Paths per kernel launch",
			Buckets: prometheus.ExponentialBuckets(32, 4, 8),
		}),
		compactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wavefront_compactions_total",
			Help: "State compaction passes by array",
		}, []string{"array"}),
		tiles: f.NewCounter(prometheus.CounterOpts{
			Name: "wavefront_work_tiles_total",
			Help: "Work tiles enqueued",
		}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "wavefront_gpu_fallbacks_total",
			Help: "Index builds that fell back from the accelerator to the CPU",
		}),
		queued: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wavefront_queued_paths",
			Help: "Paths queued per kernel after the last step",
		}, []string{"kernel"}),
	}
}

func (m *metrics) launch(k integrator.DeviceKernel, n int) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(k.String()).Inc()
	m.paths.WithLabelValues(k.String()).Add(float64(n))
	m.workSize.Observe(float64(n))
}

func (m *metrics) compaction(array string) {
	if m == nil {
		return
	}
	m.compactions.WithLabelValues(array).Inc()
}

func (m *metrics) tilesEnqueued(n int) {
	if m == nil {
		return
	}
	m.tiles.Add(float64(n))
}

func (m *metrics) fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *metrics) observeQueues(s *integrator.State) {
	if m == nil {
		return
	}
	main, shadow := s.Queue.Snapshot(), s.ShadowQueue.Snapshot()
	for k := integrator.KernelInitFromCamera + 1; k < integrator.NumKernels; k++ {
		m.queued.WithLabelValues(k.String()).Set(float64(main[k] + shadow[k]))
	}
}
