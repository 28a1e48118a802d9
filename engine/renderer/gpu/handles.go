// Package gpu describes the device-level operations the renderer needs.
// Handles are opaque values owned by a Device; the zero value of every
// handle type is the null handle.
package gpu

type (
	Buffer              uint64
	Image               uint64
	ImageView           uint64
	Sampler             uint64
	Fence               uint64
	Semaphore           uint64
	CommandPool         uint64
	DescriptorPool      uint64
	DescriptorSetLayout uint64
	DescriptorSet       uint64
	ShaderModule        uint64
	PipelineLayout      uint64
	Pipeline            uint64
	AccelStructure      uint64
	QueryPool           uint64
)

// DeviceAddress is a GPU virtual address of buffer memory.
type DeviceAddress uint64

type Extent2D struct {
	Width  uint32
	Height uint32
}

type Extent3D struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

func (e Extent2D) To3D() Extent3D {
	return Extent3D{Width: e.Width, Height: e.Height, Depth: 1}
}

func (e Extent3D) To2D() Extent2D {
	return Extent2D{Width: e.Width, Height: e.Height}
}
