package gpu

type BufferDesc struct {
	Size   uint64
	Usage  BufferUsage
	Memory MemoryUsage
	Name   string
}

type ImageDesc struct {
	Format      Format
	Extent      Extent3D
	MipLevels   uint32
	ArrayLayers uint32
	Usage       ImageUsage
	Cube        bool
	Name        string
}

type ViewDesc struct {
	Format     Format
	Aspect     Aspect
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
	Cube       bool
}

type SamplerDesc struct {
	MagFilter     Filter
	MinFilter     Filter
	AddressMode   AddressMode
	MaxAnisotropy float32
	MaxLod        float32
}

type MemoryBarrier struct {
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
}

type BufferBarrier struct {
	Buffer    Buffer
	Offset    uint64
	Size      uint64
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
}

type ImageBarrier struct {
	Image      Image
	OldLayout  ImageLayout
	NewLayout  ImageLayout
	SrcStage   PipelineStage
	DstStage   PipelineStage
	SrcAccess  Access
	DstAccess  Access
	Aspect     Aspect
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// Barriers groups everything recorded by one pipeline barrier command.
type Barriers struct {
	Memory  []MemoryBarrier
	Buffers []BufferBarrier
	Images  []ImageBarrier
}

type Attachment struct {
	View       ImageView
	Format     Format
	Load       LoadOp
	ClearColor [4]float32
	ClearDepth float32
}

type RenderingInfo struct {
	Extent Extent2D
	Colors []Attachment
	Depth  *Attachment
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type BufferImageCopy struct {
	BufferOffset uint64
	Aspect       Aspect
	MipLevel     uint32
	BaseLayer    uint32
	LayerCount   uint32
	Extent       Extent3D
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type LayoutBinding struct {
	Binding  uint32
	Type     DescriptorType
	Count    uint32
	Stages   ShaderStage
	Bindless bool
}

type PoolSize struct {
	Type  DescriptorType
	Count uint32
}

type BufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

type ImageInfo struct {
	View    ImageView
	Sampler Sampler
	Layout  ImageLayout
}

// DescriptorWrite updates Count consecutive array elements of one binding.
// Exactly one of the resource slices is populated.
type DescriptorWrite struct {
	Set             DescriptorSet
	Binding         uint32
	ArrayElement    uint32
	Type            DescriptorType
	Buffers         []BufferInfo
	Images          []ImageInfo
	AccelStructures []AccelStructure
}

func (w DescriptorWrite) Count() int {
	return len(w.Buffers) + len(w.Images) + len(w.AccelStructures)
}

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

type ShaderStageInfo struct {
	Stage  ShaderStage
	Module ShaderModule
	Entry  string
}

type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

type GraphicsPipelineDesc struct {
	Layout       PipelineLayout
	Stages       []ShaderStageInfo
	Vertex       *VertexLayout
	ColorFormats []Format
	DepthFormat  Format
	DepthTest    bool
	DepthWrite   bool
	DepthCompare CompareOp
	Blend        bool
	Cull         CullMode
	Wireframe    bool
}

type ShaderGroupKind uint32

const (
	ShaderGroupGeneral ShaderGroupKind = iota
	ShaderGroupTrianglesHit
	ShaderGroupProceduralHit
)

// ShaderUnused marks an empty shader slot of a ShaderGroup.
const ShaderUnused = ^uint32(0)

// ShaderGroup references stages by their index in the pipeline stage list.
type ShaderGroup struct {
	Kind         ShaderGroupKind
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

type RayTracingPipelineDesc struct {
	Layout       PipelineLayout
	Stages       []ShaderStageInfo
	Groups       []ShaderGroup
	MaxRecursion uint32
}

type StridedRegion struct {
	Address DeviceAddress
	Stride  uint64
	Size    uint64
}

type SBTRegions struct {
	Raygen   StridedRegion
	Miss     StridedRegion
	Hit      StridedRegion
	Callable StridedRegion
}

type SubmitInfo struct {
	CommandBuffers []CommandBuffer
	Wait           []Semaphore
	WaitStages     []PipelineStage
	Signal         []Semaphore
	Fence          Fence
}

type Swapchain struct {
	Format Format
	Extent Extent2D
	Images []Image
	Views  []ImageView
}

type Limits struct {
	MinUniformBufferOffsetAlignment uint64
	MinStorageBufferOffsetAlignment uint64
	MaxSamplerAnisotropy            float32
	ShaderGroupHandleSize           uint32
	ShaderGroupHandleAlignment      uint32
	ShaderGroupBaseAlignment        uint32
	MaxRayRecursionDepth            uint32
	MinAccelScratchOffsetAlignment  uint64
}

type Features struct {
	RayTracing          bool
	DescriptorIndexing  bool
	DynamicRendering    bool
	BufferDeviceAddress bool
}
