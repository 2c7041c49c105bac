//go:build !nogpu

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gogpu/wavefront/internal/gpu"
)

func init() {
	subcommands = append(subcommands, newShadersCmd)
}

func newShadersCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "shaders",
		Short: "Compile the index-building compute shaders to SPIR-V",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out != "" {
				if err := os.MkdirAll(out, 0o755); err != nil {
					return err
				}
			}
			for stage := range gpu.StageCount {
				spirv, err := gpu.CompileStage(stage)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %6d bytes\n", stage, len(spirv))
				if out == "" {
					continue
				}
				path := filepath.Join(out, stage.String()+".spv")
				if err := os.WriteFile(path, spirv, 0o644); err != nil { //nolint:gosec // output is not secret
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "directory for .spv files")
	return cmd
}
