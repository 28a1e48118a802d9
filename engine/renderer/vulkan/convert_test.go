package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func TestFormatRoundTrip(t *testing.T) {
	for f := range formats {
		assert.Equal(t, f, gpuFormat(vkFormat(f)), "format %d", f)
	}
	assert.Equal(t, vk.FormatUndefined, vkFormat(gpu.Format(999)))
	assert.Equal(t, gpu.FormatUndefined, gpuFormat(vk.FormatR8Unorm))
}

func TestStagesDefaultWhenEmpty(t *testing.T) {
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vkStages(gpu.StageNone, true))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), vkStages(gpu.StageNone, false))

	got := vkStages(gpu.StageTransfer|gpu.StageFragmentShader, true)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTransferBit|vk.PipelineStageFragmentShaderBit), got)
}

func TestRayTracingStagesFoldToAllCommands(t *testing.T) {
	all := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	assert.Equal(t, all, vkStages(gpu.StageRayTracingShader, false))
	assert.Equal(t, all, vkStages(gpu.StageAccelStructureBuild, true))

	assert.Equal(t, vk.AccessFlags(vk.AccessMemoryReadBit|vk.AccessMemoryWriteBit),
		vkAccess(gpu.AccessAccelStructureRead|gpu.AccessAccelStructureWrite))
	assert.Zero(t, vkAccess(gpu.AccessNone))
}

func TestShaderStages(t *testing.T) {
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit), vkShaderStages(gpu.ShaderStageAllGraphics))
	assert.Zero(t, vkShaderStages(gpu.ShaderStageAllRayTracing))

	stage, err := vkShaderStage(gpu.ShaderStageFragment)
	require.NoError(t, err)
	assert.Equal(t, vk.ShaderStageFragmentBit, stage)

	_, err = vkShaderStage(gpu.ShaderStageClosestHit)
	assert.ErrorIs(t, err, gpu.ErrRayTracingUnsupported)
	_, err = vkShaderStage(gpu.ShaderStageAllGraphics)
	assert.Error(t, err)
}

func TestDescriptorTypes(t *testing.T) {
	typ, err := vkDescriptorType(gpu.DescriptorCombinedImageSampler)
	require.NoError(t, err)
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, typ)

	_, err = vkDescriptorType(gpu.DescriptorAccelStructure)
	assert.ErrorIs(t, err, gpu.ErrRayTracingUnsupported)
}

func TestBufferUsageRejectsRayTracingBits(t *testing.T) {
	usage, err := vkBufferUsage(gpu.BufferUsageVertex | gpu.BufferUsageTransferDst)
	require.NoError(t, err)
	assert.Equal(t, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit), usage)

	for _, u := range []gpu.BufferUsage{
		gpu.BufferUsageDeviceAddress,
		gpu.BufferUsageAccelStructureInput,
		gpu.BufferUsageAccelStructureStorage,
		gpu.BufferUsageShaderBindingTable,
	} {
		_, err := vkBufferUsage(gpu.BufferUsageStorage | u)
		assert.True(t, errors.Is(err, gpu.ErrRayTracingUnsupported), "usage %#x", u)
	}
}

func TestMemoryPropertiesPreferenceOrder(t *testing.T) {
	assert.Equal(t, []vk.MemoryPropertyFlagBits{vk.MemoryPropertyDeviceLocalBit}, memoryProperties(gpu.MemoryGPUOnly))

	upload := memoryProperties(gpu.MemoryCPUToGPU)
	require.Len(t, upload, 2)
	assert.NotZero(t, upload[0]&vk.MemoryPropertyDeviceLocalBit)
	for _, flags := range upload {
		assert.NotZero(t, flags&vk.MemoryPropertyHostVisibleBit)
		assert.NotZero(t, flags&vk.MemoryPropertyHostCoherentBit)
	}

	readback := memoryProperties(gpu.MemoryGPUToCPU)
	require.Len(t, readback, 2)
	assert.NotZero(t, readback[0]&vk.MemoryPropertyHostCachedBit)
}

func TestBindPoints(t *testing.T) {
	bp, ok := vkBindPoint(gpu.BindPointGraphics)
	assert.True(t, ok)
	assert.Equal(t, vk.PipelineBindPointGraphics, bp)

	_, ok = vkBindPoint(gpu.BindPointRayTracing)
	assert.False(t, ok)
}

func TestSamplerConversions(t *testing.T) {
	filter, mip := vkFilter(gpu.FilterNearest)
	assert.Equal(t, vk.FilterNearest, filter)
	assert.Equal(t, vk.SamplerMipmapModeNearest, mip)
	assert.Equal(t, vk.SamplerAddressModeClampToEdge, vkAddressMode(gpu.AddressClampToEdge))
	assert.Equal(t, vk.SamplerAddressModeRepeat, vkAddressMode(gpu.AddressRepeat))
}

func TestDefaultAspect(t *testing.T) {
	assert.Equal(t, gpu.AspectColor, defaultAspect(gpu.FormatR16G16B16A16Sfloat))
	assert.Equal(t, gpu.AspectDepth, defaultAspect(gpu.FormatD32Sfloat))
	assert.Equal(t, gpu.AspectDepth|gpu.AspectStencil, defaultAspect(gpu.FormatD24UnormS8Uint))
}
