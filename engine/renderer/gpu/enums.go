package gpu

type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR16G16Sfloat
	FormatR16G16B16A16Sfloat
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat
	FormatD32Sfloat
	FormatD24UnormS8Uint
)

func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD24UnormS8Uint
}

// BytesPerPixel returns the texel size, or 0 for FormatUndefined.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatR16G16Sfloat, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatR16G16B16A16Sfloat, FormatR32G32Sfloat:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

type ImageLayout uint32

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutDepthReadOnly
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

var layoutNames = [...]string{
	LayoutUndefined:       "undefined",
	LayoutGeneral:         "general",
	LayoutColorAttachment: "color-attachment",
	LayoutDepthAttachment: "depth-attachment",
	LayoutDepthReadOnly:   "depth-read-only",
	LayoutShaderReadOnly:  "shader-read-only",
	LayoutTransferSrc:     "transfer-src",
	LayoutTransferDst:     "transfer-dst",
	LayoutPresentSrc:      "present-src",
}

func (l ImageLayout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return "unknown"
}

type Aspect uint32

const (
	AspectColor Aspect = 1 << iota
	AspectDepth
	AspectStencil
)

type PipelineStage uint32

const (
	StageNone            PipelineStage = 0
	StageTopOfPipe       PipelineStage = 1 << iota
	StageDrawIndirect
	StageVertexInput
	StageVertexShader
	StageFragmentShader
	StageEarlyFragmentTests
	StageLateFragmentTests
	StageColorAttachmentOutput
	StageComputeShader
	StageTransfer
	StageBottomOfPipe
	StageHost
	StageAllGraphics
	StageAllCommands
	StageRayTracingShader
	StageAccelStructureBuild
)

type Access uint32

const (
	AccessNone         Access = 0
	AccessIndirectRead Access = 1 << iota
	AccessIndexRead
	AccessVertexAttributeRead
	AccessUniformRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilRead
	AccessDepthStencilWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
	AccessMemoryRead
	AccessMemoryWrite
	AccessAccelStructureRead
	AccessAccelStructureWrite
)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
	ShaderStageRaygen
	ShaderStageAnyHit
	ShaderStageClosestHit
	ShaderStageMiss
	ShaderStageIntersection

	ShaderStageAllGraphics   = ShaderStageVertex | ShaderStageFragment
	ShaderStageAllRayTracing = ShaderStageRaygen | ShaderStageAnyHit | ShaderStageClosestHit | ShaderStageMiss | ShaderStageIntersection
)

type DescriptorType uint32

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	DescriptorCombinedImageSampler
	DescriptorSampledImage
	DescriptorStorageImage
	DescriptorSampler
	DescriptorAccelStructure
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageDeviceAddress
	BufferUsageAccelStructureInput
	BufferUsageAccelStructureStorage
	BufferUsageShaderBindingTable
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
)

// MemoryUsage is an allocation hint in the style of VMA memory usages.
type MemoryUsage uint32

const (
	MemoryGPUOnly MemoryUsage = iota
	MemoryCPUToGPU
	MemoryGPUToCPU
)

// HostVisible reports whether buffers with this usage are persistently mapped.
func (m MemoryUsage) HostVisible() bool {
	return m != MemoryGPUOnly
}

type LoadOp uint32

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

type IndexType uint32

const (
	IndexTypeUint32 IndexType = iota
	IndexTypeUint16
)

type BindPoint uint32

const (
	BindPointGraphics BindPoint = iota
	BindPointCompute
	BindPointRayTracing
)

type CullMode uint32

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

type CompareOp uint32

const (
	CompareLess CompareOp = iota
	CompareLessOrEqual
	CompareGreater
	CompareGreaterOrEqual
	CompareEqual
	CompareAlways
)

type Filter uint32

const (
	FilterLinear Filter = iota
	FilterNearest
)

type AddressMode uint32

const (
	AddressRepeat AddressMode = iota
	AddressClampToEdge
	AddressMirroredRepeat
)
