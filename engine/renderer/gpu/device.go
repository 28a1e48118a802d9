package gpu

import (
	"errors"
	"time"
)

var (
	ErrRayTracingUnsupported = errors.New("device does not support ray tracing")
	ErrTimeout               = errors.New("timed out waiting for the device")
	ErrOutOfDate             = errors.New("swapchain out of date")
)

// Device is the explicitly owned GPU context. Every renderer component
// receives it from its constructor; there is no global instance.
type Device interface {
	Limits() Limits
	Features() Features
	WaitIdle() error

	CreateBuffer(desc BufferDesc) (Buffer, error)
	DestroyBuffer(b Buffer)
	// MapBuffer returns the persistently mapped bytes of a host-visible buffer.
	MapBuffer(b Buffer) ([]byte, error)
	BufferAddress(b Buffer) (DeviceAddress, error)

	CreateImage(desc ImageDesc) (Image, error)
	DestroyImage(img Image)
	CreateImageView(img Image, desc ViewDesc) (ImageView, error)
	DestroyImageView(v ImageView)
	CreateSampler(desc SamplerDesc) (Sampler, error)
	DestroySampler(s Sampler)

	CreateCommandPool(transient bool) (CommandPool, error)
	DestroyCommandPool(p CommandPool)
	AllocateCommandBuffer(p CommandPool) (CommandBuffer, error)
	FreeCommandBuffer(p CommandPool, cb CommandBuffer)

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(f Fence)
	// WaitFence returns ErrTimeout when the fence is not signaled in time.
	WaitFence(f Fence, timeout time.Duration) error
	ResetFence(f Fence) error
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)

	Submit(info SubmitInfo) error

	Swapchain() Swapchain
	AcquireNextImage(signal Semaphore, timeout time.Duration) (uint32, error)
	Present(wait Semaphore, imageIndex uint32) error

	CreateDescriptorPool(maxSets uint32, sizes []PoolSize, bindless bool) (DescriptorPool, error)
	DestroyDescriptorPool(p DescriptorPool)
	CreateDescriptorSetLayout(bindings []LayoutBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(l DescriptorSetLayout)
	// AllocateDescriptorSet allocates one set; variableCount sizes the last
	// binding of bindless layouts and is ignored otherwise.
	AllocateDescriptorSet(p DescriptorPool, l DescriptorSetLayout, variableCount uint32) (DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreateShaderModule(code []byte) (ShaderModule, error)
	DestroyShaderModule(m ShaderModule)
	CreatePipelineLayout(sets []DescriptorSetLayout, push []PushConstantRange) (PipelineLayout, error)
	DestroyPipelineLayout(l PipelineLayout)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)
	CreateRayTracingPipeline(desc RayTracingPipelineDesc) (Pipeline, error)
	// ShaderGroupHandles returns count*ShaderGroupHandleSize bytes.
	ShaderGroupHandles(p Pipeline, first, count uint32) ([]byte, error)
	DestroyPipeline(p Pipeline)

	AccelBuildSizes(info AccelBuildInfo) (AccelBuildSizes, error)
	CreateAccelStructure(typ AccelStructureType, buffer Buffer, offset, size uint64) (AccelStructure, error)
	DestroyAccelStructure(as AccelStructure)
	AccelStructureAddress(as AccelStructure) (DeviceAddress, error)
	// CreateQueryPool creates a pool of compacted-size queries.
	CreateQueryPool(count uint32) (QueryPool, error)
	DestroyQueryPool(q QueryPool)
	QueryResults(q QueryPool, first, count uint32) ([]uint64, error)
}

// CommandBuffer records GPU commands. It is owned by the pool that allocated it.
type CommandBuffer interface {
	Begin(oneTimeSubmit bool) error
	End() error
	Reset() error

	PipelineBarrier(b Barriers)

	BeginRendering(info RenderingInfo)
	EndRendering()
	SetViewport(v Viewport)
	SetScissor(r Rect)

	BindPipeline(point BindPoint, p Pipeline)
	BindDescriptorSets(point BindPoint, layout PipelineLayout, firstSet uint32, sets []DescriptorSet)
	BindVertexBuffer(b Buffer, offset uint64)
	BindIndexBuffer(b Buffer, offset uint64, typ IndexType)
	PushConstants(layout PipelineLayout, stages ShaderStage, offset uint32, data []byte)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	CopyBuffer(src, dst Buffer, regions []BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, layout ImageLayout, regions []BufferImageCopy)
	CopyImage(src Image, srcLayout ImageLayout, dst Image, dstLayout ImageLayout, aspect Aspect, extent Extent3D)

	TraceRays(regions SBTRegions, width, height, depth uint32)
	BuildAccelStructure(info AccelBuildInfo)
	CopyAccelStructure(src, dst AccelStructure, compact bool)
	WriteAccelStructureProperties(structures []AccelStructure, pool QueryPool, first uint32)
	ResetQueryPool(pool QueryPool, first, count uint32)
}
