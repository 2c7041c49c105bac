//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/naga"
)

// CompileStage compiles the WGSL source of a stage to SPIR-V.
func CompileStage(stage Stage) ([]byte, error) {
	src := stage.ShaderSource()
	if src == "" {
		return nil, fmt.Errorf("gpu: no shader for stage %s", stage)
	}
	spirv, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("gpu: compile %s: %w", stage, err)
	}
	return spirv, nil
}
