package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/wavefront"
)

func newTilesCmd() *cobra.Command {
	var (
		config          string
		width, height   int
		samples, budget int
		list            bool
	)
	cmd := &cobra.Command{
		Use:   "tiles",
		Short: "Print the work tile plan of a render",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := wavefront.LoadConfig(config)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("budget") {
				cfg.MaxPaths = budget
				cfg.MinActivePaths = 0
				cfg.MaxShadowPaths = 0
			}
			s, err := wavefront.New(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			tiles, err := s.NewWorkTiles(
				wavefront.BufferParams{Width: width, Height: height, Stride: width},
				wavefront.SampleRange{Num: uint32(samples)},
			)
			if err != nil {
				return err
			}

			p := message.NewPrinter(language.English)
			out := cmd.OutOrStdout()
			p.Fprintf(out, "tile edge %d, %d tiles, %d paths\n",
				tiles.TileEdge(), tiles.NumTiles(), width*height*samples)
			if !list {
				return nil
			}
			for !tiles.Empty() {
				t, ok := tiles.GetWork(cfg.MaxPaths)
				if !ok {
					break
				}
				p.Fprintf(out, "%5d %5d %4dx%-4d samples %d+%d  work %d\n",
					t.X, t.Y, t.W, t.H, t.StartSample, t.NumSamples, t.WorkSize)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&config, "config", "c", "", "YAML or JSON scheduler config")
	fl.IntVar(&width, "width", 1920, "image width in pixels")
	fl.IntVar(&height, "height", 1080, "image height in pixels")
	fl.IntVarP(&samples, "samples", "s", 64, "samples per pixel")
	fl.IntVar(&budget, "budget", 0, "override max_paths")
	fl.BoolVarP(&list, "list", "l", false, "list every tile")
	return cmd
}
