package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/wavefront"
	_ "github.com/gogpu/wavefront/gpu" // registers the GPU index accelerator
	"github.com/gogpu/wavefront/integrator"
	"github.com/gogpu/wavefront/internal/heatmap"
	"github.com/gogpu/wavefront/internal/synth"
)

type renderFlags struct {
	config      string
	width       int
	height      int
	samples     int
	maxPaths    int
	sort        string
	gpu         bool
	heatmap     string
	scale       int
	metricsAddr string
	verbose     bool
}

func newRenderCmd() *cobra.Command {
	var f renderFlags
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the synthetic scene and report scheduler statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd.Context(), cmd, &f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "YAML or JSON scheduler config")
	fl.IntVar(&f.width, "width", 320, "image width in pixels")
	fl.IntVar(&f.height, "height", 180, "image height in pixels")
	fl.IntVarP(&f.samples, "samples", "s", 16, "samples per pixel")
	fl.IntVar(&f.maxPaths, "max-paths", 0, "override max_paths")
	fl.StringVar(&f.sort, "sort", "", "override sort: none, atomic or partitioned")
	fl.BoolVar(&f.gpu, "gpu", false, "build launch indices on the GPU")
	fl.StringVar(&f.heatmap, "heatmap", "", "write mean bounce depth per pixel (.tiff or .png)")
	fl.IntVar(&f.scale, "heatmap-scale", 1, "integer upscale of the heatmap")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while rendering")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

// renderConfig loads the config file and applies the flags that were set.
func renderConfig(cmd *cobra.Command, f *renderFlags) (wavefront.Config, error) {
	cfg, err := wavefront.LoadConfig(f.config)
	if err != nil {
		return cfg, err
	}
	fl := cmd.Flags()
	if fl.Changed("max-paths") {
		cfg.MaxPaths = f.maxPaths
	}
	if fl.Changed("sort") {
		cfg.Sort = f.sort
	}
	if fl.Changed("gpu") {
		cfg.UseGPU = f.gpu
	}
	return cfg, cfg.Validate()
}

func runRender(ctx context.Context, cmd *cobra.Command, f *renderFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	session := uuid.NewString()
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})).
		With("session", session)
	wavefront.SetLogger(logger)
	defer wavefront.SetLogger(nil)

	cfg, err := renderConfig(cmd, f)
	if err != nil {
		return err
	}
	if f.width <= 0 || f.height <= 0 || f.samples <= 0 {
		return fmt.Errorf("image %dx%d with %d samples", f.width, f.height, f.samples)
	}

	reg := prometheus.NewRegistry()
	if f.metricsAddr != "" {
		srv := &http.Server{
			Addr:              f.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	scene := synth.DefaultScene()
	scene.NumShaders = cfg.NumShaders
	film := synth.NewFilm(f.width, f.height)

	s, err := wavefront.New(cfg,
		wavefront.WithKernels(synth.Kernels(scene, film)),
		wavefront.WithCamera(synth.Camera()),
		wavefront.WithMetrics(reg),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	tiles, err := s.NewWorkTiles(
		wavefront.BufferParams{Width: f.width, Height: f.height, Stride: f.width},
		wavefront.SampleRange{Num: uint32(f.samples)},
	)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := s.Render(ctx, tiles); err != nil {
		return err
	}
	report(cmd.OutOrStdout(), s, film, time.Since(start))

	if f.heatmap != "" {
		img, err := heatmap.Image(film.MeanBounces(), f.width, f.height)
		if err != nil {
			return err
		}
		if err := heatmap.Save(f.heatmap, heatmap.Scale(img, f.scale)); err != nil {
			return err
		}
		logger.Info("heatmap written", "path", f.heatmap)
	}
	return nil
}

func report(w io.Writer, s *wavefront.Scheduler, film *synth.Film, elapsed time.Duration) {
	st := s.Stats()
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "samples       %d\n", film.TotalSamples())
	p.Fprintf(w, "shadow rays   %d\n", film.TotalShadowRays())
	p.Fprintf(w, "steps         %d\n", st.Steps)
	p.Fprintf(w, "launches      %d\n", st.TotalLaunches())
	p.Fprintf(w, "tiles         %d\n", st.TilesEnqueued)
	p.Fprintf(w, "compactions   %d main, %d shadow, %d states moved\n",
		st.MainCompactions, st.ShadowCompactions, st.CompactedPaths)
	if st.GPUIndexBuilds > 0 || st.GPUFallbacks > 0 {
		p.Fprintf(w, "gpu indices   %d built, %d fell back\n", st.GPUIndexBuilds, st.GPUFallbacks)
	}
	p.Fprintf(w, "occupancy     %.1f%%\n", 100*st.Occupancy(s.Config().MaxPaths))
	p.Fprintf(w, "elapsed       %v\n", elapsed.Round(time.Millisecond))
	for k := range integrator.NumKernels {
		if st.Launches[k] == 0 {
			continue
		}
		p.Fprintf(w, "  %-34s %8d launches %12d paths\n", k.String(), st.Launches[k], st.Paths[k])
	}
}
