package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func TestRenderPassKeyTracksLoadOps(t *testing.T) {
	clear := gpu.RenderingInfo{
		Colors: []gpu.Attachment{{View: 1, Format: gpu.FormatB8G8R8A8Srgb, Load: gpu.LoadOpClear}},
		Depth:  &gpu.Attachment{View: 2, Format: gpu.FormatD32Sfloat, Load: gpu.LoadOpClear},
	}
	load := gpu.RenderingInfo{
		Colors: []gpu.Attachment{{View: 3, Format: gpu.FormatB8G8R8A8Srgb, Load: gpu.LoadOpLoad}},
	}

	assert.NotEqual(t, renderPassKeyFor(clear), renderPassKeyFor(load))
	// Views do not take part in the key.
	clear.Colors[0].View = 9
	assert.Equal(t, renderPassKeyFor(clear), pipelineRenderPassKey([]gpu.Format{gpu.FormatB8G8R8A8Srgb}, gpu.FormatD32Sfloat))
}

func TestPipelineRenderPassKeyWithoutDepth(t *testing.T) {
	key := pipelineRenderPassKey([]gpu.Format{gpu.FormatR16G16B16A16Sfloat, gpu.FormatR16G16Sfloat}, gpu.FormatUndefined)
	assert.Equal(t, 2, key.colorCount)
	assert.False(t, key.hasDepth)
	assert.Equal(t, gpu.FormatR16G16Sfloat, key.colors[1].format)
}
