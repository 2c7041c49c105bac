// Command wavefront drives the wavefront scheduler over a synthetic scene.
//
//	wavefront render --width 320 --height 180 --samples 16 --heatmap bounces.tiff
//	wavefront tiles --width 1920 --height 1080 --samples 64
//	wavefront shaders --out ./spirv
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// subcommands are added by build-tagged files.
var subcommands []func() *cobra.Command

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wavefront",
		Short:         "Run the wavefront path scheduler on a synthetic workload",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRenderCmd(), newTilesCmd())
	for _, sub := range subcommands {
		root.AddCommand(sub())
	}
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wavefront:", err)
		os.Exit(1)
	}
}
