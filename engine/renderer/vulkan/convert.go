package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

var formats = map[gpu.Format]vk.Format{
	gpu.FormatUndefined:          vk.FormatUndefined,
	gpu.FormatR8G8B8A8Unorm:      vk.FormatR8g8b8a8Unorm,
	gpu.FormatR8G8B8A8Srgb:       vk.FormatR8g8b8a8Srgb,
	gpu.FormatB8G8R8A8Unorm:      vk.FormatB8g8r8a8Unorm,
	gpu.FormatB8G8R8A8Srgb:       vk.FormatB8g8r8a8Srgb,
	gpu.FormatR16G16Sfloat:       vk.FormatR16g16Sfloat,
	gpu.FormatR16G16B16A16Sfloat: vk.FormatR16g16b16a16Sfloat,
	gpu.FormatR32G32Sfloat:       vk.FormatR32g32Sfloat,
	gpu.FormatR32G32B32Sfloat:    vk.FormatR32g32b32Sfloat,
	gpu.FormatR32G32B32A32Sfloat: vk.FormatR32g32b32a32Sfloat,
	gpu.FormatD32Sfloat:          vk.FormatD32Sfloat,
	gpu.FormatD24UnormS8Uint:     vk.FormatD24UnormS8Uint,
}

func vkFormat(f gpu.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// gpuFormat is the reverse lookup used for surface formats.
func gpuFormat(f vk.Format) gpu.Format {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return gpu.FormatUndefined
}

func vkLayout(l gpu.ImageLayout) vk.ImageLayout {
	switch l {
	case gpu.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.LayoutDepthAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.LayoutDepthReadOnly:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case gpu.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

func vkAspect(a gpu.Aspect) vk.ImageAspectFlags {
	var out vk.ImageAspectFlagBits
	if a&gpu.AspectColor != 0 {
		out |= vk.ImageAspectColorBit
	}
	if a&gpu.AspectDepth != 0 {
		out |= vk.ImageAspectDepthBit
	}
	if a&gpu.AspectStencil != 0 {
		out |= vk.ImageAspectStencilBit
	}
	return vk.ImageAspectFlags(out)
}

// Ray tracing stages fold into all-commands; the backend never records work
// for them but barriers naming them stay valid.
var stageBits = []struct {
	from gpu.PipelineStage
	to   vk.PipelineStageFlagBits
}{
	{gpu.StageTopOfPipe, vk.PipelineStageTopOfPipeBit},
	{gpu.StageDrawIndirect, vk.PipelineStageDrawIndirectBit},
	{gpu.StageVertexInput, vk.PipelineStageVertexInputBit},
	{gpu.StageVertexShader, vk.PipelineStageVertexShaderBit},
	{gpu.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{gpu.StageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
	{gpu.StageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
	{gpu.StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
	{gpu.StageComputeShader, vk.PipelineStageComputeShaderBit},
	{gpu.StageTransfer, vk.PipelineStageTransferBit},
	{gpu.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
	{gpu.StageHost, vk.PipelineStageHostBit},
	{gpu.StageAllGraphics, vk.PipelineStageAllGraphicsBit},
	{gpu.StageAllCommands, vk.PipelineStageAllCommandsBit},
	{gpu.StageRayTracingShader, vk.PipelineStageAllCommandsBit},
	{gpu.StageAccelStructureBuild, vk.PipelineStageAllCommandsBit},
}

// vkStages converts a stage mask. An empty source mask becomes top-of-pipe
// and an empty destination mask bottom-of-pipe.
func vkStages(s gpu.PipelineStage, src bool) vk.PipelineStageFlags {
	var out vk.PipelineStageFlagBits
	for _, b := range stageBits {
		if s&b.from != 0 {
			out |= b.to
		}
	}
	if out == 0 {
		if src {
			out = vk.PipelineStageTopOfPipeBit
		} else {
			out = vk.PipelineStageBottomOfPipeBit
		}
	}
	return vk.PipelineStageFlags(out)
}

var accessBits = []struct {
	from gpu.Access
	to   vk.AccessFlagBits
}{
	{gpu.AccessIndirectRead, vk.AccessIndirectCommandReadBit},
	{gpu.AccessIndexRead, vk.AccessIndexReadBit},
	{gpu.AccessVertexAttributeRead, vk.AccessVertexAttributeReadBit},
	{gpu.AccessUniformRead, vk.AccessUniformReadBit},
	{gpu.AccessShaderRead, vk.AccessShaderReadBit},
	{gpu.AccessShaderWrite, vk.AccessShaderWriteBit},
	{gpu.AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit},
	{gpu.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
	{gpu.AccessDepthStencilRead, vk.AccessDepthStencilAttachmentReadBit},
	{gpu.AccessDepthStencilWrite, vk.AccessDepthStencilAttachmentWriteBit},
	{gpu.AccessTransferRead, vk.AccessTransferReadBit},
	{gpu.AccessTransferWrite, vk.AccessTransferWriteBit},
	{gpu.AccessHostRead, vk.AccessHostReadBit},
	{gpu.AccessHostWrite, vk.AccessHostWriteBit},
	{gpu.AccessMemoryRead, vk.AccessMemoryReadBit},
	{gpu.AccessMemoryWrite, vk.AccessMemoryWriteBit},
	{gpu.AccessAccelStructureRead, vk.AccessMemoryReadBit},
	{gpu.AccessAccelStructureWrite, vk.AccessMemoryWriteBit},
}

func vkAccess(a gpu.Access) vk.AccessFlags {
	var out vk.AccessFlagBits
	for _, b := range accessBits {
		if a&b.from != 0 {
			out |= b.to
		}
	}
	return vk.AccessFlags(out)
}

// vkShaderStages drops the ray tracing stages, which no pipeline on this
// backend can contain.
func vkShaderStages(s gpu.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	if s&gpu.ShaderStageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&gpu.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	if s&gpu.ShaderStageCompute != 0 {
		out |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(out)
}

func vkShaderStage(s gpu.ShaderStage) (vk.ShaderStageFlagBits, error) {
	switch s {
	case gpu.ShaderStageVertex:
		return vk.ShaderStageVertexBit, nil
	case gpu.ShaderStageFragment:
		return vk.ShaderStageFragmentBit, nil
	case gpu.ShaderStageCompute:
		return vk.ShaderStageComputeBit, nil
	case gpu.ShaderStageRaygen, gpu.ShaderStageAnyHit, gpu.ShaderStageClosestHit, gpu.ShaderStageMiss, gpu.ShaderStageIntersection:
		return 0, gpu.ErrRayTracingUnsupported
	}
	return 0, fmt.Errorf("unknown shader stage %#x", uint32(s))
}

func vkDescriptorType(t gpu.DescriptorType) (vk.DescriptorType, error) {
	switch t {
	case gpu.DescriptorUniformBuffer:
		return vk.DescriptorTypeUniformBuffer, nil
	case gpu.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer, nil
	case gpu.DescriptorCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler, nil
	case gpu.DescriptorSampledImage:
		return vk.DescriptorTypeSampledImage, nil
	case gpu.DescriptorStorageImage:
		return vk.DescriptorTypeStorageImage, nil
	case gpu.DescriptorSampler:
		return vk.DescriptorTypeSampler, nil
	case gpu.DescriptorAccelStructure:
		return 0, gpu.ErrRayTracingUnsupported
	}
	return 0, fmt.Errorf("unknown descriptor type %d", t)
}

const rayTracingBufferUsage = gpu.BufferUsageDeviceAddress | gpu.BufferUsageAccelStructureInput |
	gpu.BufferUsageAccelStructureStorage | gpu.BufferUsageShaderBindingTable

func vkBufferUsage(u gpu.BufferUsage) (vk.BufferUsageFlags, error) {
	if u&rayTracingBufferUsage != 0 {
		return 0, fmt.Errorf("buffer usage %#x: %w", uint32(u&rayTracingBufferUsage), gpu.ErrRayTracingUnsupported)
	}
	var out vk.BufferUsageFlagBits
	if u&gpu.BufferUsageTransferSrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&gpu.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	if u&gpu.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&gpu.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&gpu.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if u&gpu.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	return vk.BufferUsageFlags(out), nil
}

func vkImageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u&gpu.ImageUsageTransferSrc != 0 {
		out |= vk.ImageUsageTransferSrcBit
	}
	if u&gpu.ImageUsageTransferDst != 0 {
		out |= vk.ImageUsageTransferDstBit
	}
	if u&gpu.ImageUsageSampled != 0 {
		out |= vk.ImageUsageSampledBit
	}
	if u&gpu.ImageUsageStorage != 0 {
		out |= vk.ImageUsageStorageBit
	}
	if u&gpu.ImageUsageColorAttachment != 0 {
		out |= vk.ImageUsageColorAttachmentBit
	}
	if u&gpu.ImageUsageDepthAttachment != 0 {
		out |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return vk.ImageUsageFlags(out)
}

// memoryProperties returns the required property flags for a usage hint,
// most preferred first.
func memoryProperties(m gpu.MemoryUsage) []vk.MemoryPropertyFlagBits {
	hostCoherent := vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	switch m {
	case gpu.MemoryCPUToGPU:
		return []vk.MemoryPropertyFlagBits{hostCoherent | vk.MemoryPropertyDeviceLocalBit, hostCoherent}
	case gpu.MemoryGPUToCPU:
		return []vk.MemoryPropertyFlagBits{hostCoherent | vk.MemoryPropertyHostCachedBit, hostCoherent}
	}
	return []vk.MemoryPropertyFlagBits{vk.MemoryPropertyDeviceLocalBit}
}

func vkLoadOp(op gpu.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gpu.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case gpu.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpClear
}

func vkIndexType(t gpu.IndexType) vk.IndexType {
	if t == gpu.IndexTypeUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func vkBindPoint(p gpu.BindPoint) (vk.PipelineBindPoint, bool) {
	switch p {
	case gpu.BindPointGraphics:
		return vk.PipelineBindPointGraphics, true
	case gpu.BindPointCompute:
		return vk.PipelineBindPointCompute, true
	}
	return 0, false
}

func vkCullMode(c gpu.CullMode) vk.CullModeFlags {
	switch c {
	case gpu.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case gpu.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func vkCompareOp(c gpu.CompareOp) vk.CompareOp {
	switch c {
	case gpu.CompareLessOrEqual:
		return vk.CompareOpLessOrEqual
	case gpu.CompareGreater:
		return vk.CompareOpGreater
	case gpu.CompareGreaterOrEqual:
		return vk.CompareOpGreaterOrEqual
	case gpu.CompareEqual:
		return vk.CompareOpEqual
	case gpu.CompareAlways:
		return vk.CompareOpAlways
	}
	return vk.CompareOpLess
}

func vkFilter(f gpu.Filter) (vk.Filter, vk.SamplerMipmapMode) {
	if f == gpu.FilterNearest {
		return vk.FilterNearest, vk.SamplerMipmapModeNearest
	}
	return vk.FilterLinear, vk.SamplerMipmapModeLinear
}

func vkAddressMode(a gpu.AddressMode) vk.SamplerAddressMode {
	switch a {
	case gpu.AddressClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case gpu.AddressMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	}
	return vk.SamplerAddressModeRepeat
}
