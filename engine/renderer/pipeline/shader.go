package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

var ErrUnknownShaderStage = errors.New("unrecognized shader stage suffix")

// ShaderSource loads compiled shader blobs by name.
type ShaderSource interface {
	LoadShader(name string) ([]byte, error)
}

var stageSuffixes = map[string]gpu.ShaderStage{
	"vert": gpu.ShaderStageVertex,
	"frag": gpu.ShaderStageFragment,
	"comp": gpu.ShaderStageCompute,
	"rgen": gpu.ShaderStageRaygen,
	"ahit": gpu.ShaderStageAnyHit,
	"chit": gpu.ShaderStageClosestHit,
	"miss": gpu.ShaderStageMiss,
}

// StageFromName infers the stage from the last four characters of the shader
// name, ignoring a trailing ".spv": "lighting.frag", "shadow.rmiss.spv".
func StageFromName(name string) (gpu.ShaderStage, error) {
	base := strings.TrimSuffix(name, ".spv")
	if len(base) >= 4 {
		if stage, ok := stageSuffixes[base[len(base)-4:]]; ok {
			return stage, nil
		}
	}
	err := fmt.Errorf("shader %q: %w", name, ErrUnknownShaderStage)
	core.LogError(err.Error())
	return 0, err
}
