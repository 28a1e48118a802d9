package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type commandBufferState int

const (
	commandBufferReady commandBufferState = iota
	commandBufferRecording
	commandBufferInRenderPass
	commandBufferRecordingEnded
)

func (d *Device) CreateCommandPool(transient bool) (gpu.CommandPool, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.queues.graphics,
	}
	if transient {
		info.Flags |= vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit)
	}
	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(d.handle, &info, nil, &pool), "vkCreateCommandPool"); err != nil {
		return 0, err
	}
	return gpu.CommandPool(d.commandPools.add(pool)), nil
}

// DestroyCommandPool also frees every command buffer allocated from it.
func (d *Device) DestroyCommandPool(h gpu.CommandPool) {
	if p, ok := d.commandPools.remove(uint64(h)); ok {
		vk.DestroyCommandPool(d.handle, p, nil)
	}
}

func (d *Device) AllocateCommandBuffer(h gpu.CommandPool) (gpu.CommandBuffer, error) {
	pool, ok := d.commandPools.get(uint64(h))
	if !ok {
		err := fmt.Errorf("command buffer from unknown pool %d", h)
		core.LogError(err.Error())
		return nil, err
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(d.handle, &info, handles), "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	return &commandBuffer{dev: d, handle: handles[0]}, nil
}

func (d *Device) FreeCommandBuffer(h gpu.CommandPool, cb gpu.CommandBuffer) {
	pool, ok := d.commandPools.get(uint64(h))
	c, isOurs := cb.(*commandBuffer)
	if !ok || !isOurs || c.handle == nil {
		return
	}
	vk.FreeCommandBuffers(d.handle, pool, 1, []vk.CommandBuffer{c.handle})
	c.handle = nil
}

// commandBuffer records into a primary command buffer. Recording methods
// cannot fail individually; the first error is kept and returned by End.
type commandBuffer struct {
	dev    *Device
	handle vk.CommandBuffer
	state  commandBufferState
	err    error
}

var _ gpu.CommandBuffer = (*commandBuffer)(nil)

func (c *commandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *commandBuffer) Begin(oneTimeSubmit bool) error {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		info.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if err := check(vk.BeginCommandBuffer(c.handle, &info), "vkBeginCommandBuffer"); err != nil {
		return err
	}
	c.state = commandBufferRecording
	c.err = nil
	return nil
}

func (c *commandBuffer) End() error {
	if c.state == commandBufferInRenderPass {
		c.fail(errors.New("command buffer ended inside a render pass"))
		vk.CmdEndRenderPass(c.handle)
	}
	if err := check(vk.EndCommandBuffer(c.handle), "vkEndCommandBuffer"); err != nil {
		return err
	}
	c.state = commandBufferRecordingEnded
	if c.err != nil {
		core.LogError("command buffer recording failed: %s", c.err)
	}
	return c.err
}

func (c *commandBuffer) Reset() error {
	if err := check(vk.ResetCommandBuffer(c.handle, 0), "vkResetCommandBuffer"); err != nil {
		return err
	}
	c.state = commandBufferReady
	c.err = nil
	return nil
}

func (c *commandBuffer) PipelineBarrier(b gpu.Barriers) {
	var src, dst gpu.PipelineStage
	memory := make([]vk.MemoryBarrier, len(b.Memory))
	for i, m := range b.Memory {
		src |= m.SrcStage
		dst |= m.DstStage
		memory[i] = vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vkAccess(m.SrcAccess),
			DstAccessMask: vkAccess(m.DstAccess),
		}
	}
	buffers := make([]vk.BufferMemoryBarrier, len(b.Buffers))
	for i, bb := range b.Buffers {
		src |= bb.SrcStage
		dst |= bb.DstStage
		size := vk.DeviceSize(bb.Size)
		if bb.Size == 0 {
			size = vk.DeviceSize(vk.WholeSize)
		}
		buffers[i] = vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vkAccess(bb.SrcAccess),
			DstAccessMask:       vkAccess(bb.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              c.dev.buffer(bb.Buffer),
			Offset:              vk.DeviceSize(bb.Offset),
			Size:                size,
		}
	}
	images := make([]vk.ImageMemoryBarrier, len(b.Images))
	for i, ib := range b.Images {
		src |= ib.SrcStage
		dst |= ib.DstStage
		images[i] = c.imageBarrier(ib)
	}
	vk.CmdPipelineBarrier(c.handle, vkStages(src, true), vkStages(dst, false), 0,
		uint32(len(memory)), memory,
		uint32(len(buffers)), buffers,
		uint32(len(images)), images)
}

func (c *commandBuffer) imageBarrier(ib gpu.ImageBarrier) vk.ImageMemoryBarrier {
	aspect := ib.Aspect
	handle := vk.NullImage
	if img, ok := c.dev.images.get(uint64(ib.Image)); ok {
		handle = img.handle
		if aspect == 0 {
			aspect = defaultAspect(img.desc.Format)
		}
	}
	mips, layers := ib.MipCount, ib.LayerCount
	if mips == 0 {
		mips = vk.RemainingMipLevels
	}
	if layers == 0 {
		layers = vk.RemainingArrayLayers
	}
	return vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vkAccess(ib.SrcAccess),
		DstAccessMask:       vkAccess(ib.DstAccess),
		OldLayout:           vkLayout(ib.OldLayout),
		NewLayout:           vkLayout(ib.NewLayout),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vkAspect(aspect),
			BaseMipLevel:   ib.BaseMip,
			LevelCount:     mips,
			BaseArrayLayer: ib.BaseLayer,
			LayerCount:     layers,
		},
	}
}

// BeginRendering starts a render pass matching the attachments of info.
// Attachments must already be in their attachment layouts.
func (c *commandBuffer) BeginRendering(info gpu.RenderingInfo) {
	pass, err := c.dev.renderPass(renderPassKeyFor(info))
	if err != nil {
		c.fail(err)
		return
	}
	views := make([]gpu.ImageView, 0, len(info.Colors)+1)
	clears := make([]vk.ClearValue, 0, len(info.Colors)+1)
	for _, a := range info.Colors {
		views = append(views, a.View)
		var cv vk.ClearValue
		cv.SetColor(a.ClearColor[:])
		clears = append(clears, cv)
	}
	if info.Depth != nil {
		views = append(views, info.Depth.View)
		var cv vk.ClearValue
		cv.SetDepthStencil(info.Depth.ClearDepth, 0)
		clears = append(clears, cv)
	}
	fb, err := c.dev.framebuffer(pass, views, info.Extent)
	if err != nil {
		c.fail(err)
		return
	}

	begin := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}
	vk.CmdBeginRenderPass(c.handle, &begin, vk.SubpassContentsInline)
	c.state = commandBufferInRenderPass
}

func (c *commandBuffer) EndRendering() {
	if c.state != commandBufferInRenderPass {
		return
	}
	vk.CmdEndRenderPass(c.handle)
	c.state = commandBufferRecording
}

func (c *commandBuffer) SetViewport(v gpu.Viewport) {
	vk.CmdSetViewport(c.handle, 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
}

func (c *commandBuffer) SetScissor(r gpu.Rect) {
	vk.CmdSetScissor(c.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}})
}

func (c *commandBuffer) BindPipeline(point gpu.BindPoint, p gpu.Pipeline) {
	bp, ok := vkBindPoint(point)
	if !ok {
		c.fail(gpu.ErrRayTracingUnsupported)
		return
	}
	pipeline, ok := c.dev.pipelines.get(uint64(p))
	if !ok {
		c.fail(fmt.Errorf("bind of unknown pipeline %d", p))
		return
	}
	vk.CmdBindPipeline(c.handle, bp, pipeline)
}

func (c *commandBuffer) BindDescriptorSets(point gpu.BindPoint, layout gpu.PipelineLayout, firstSet uint32, sets []gpu.DescriptorSet) {
	bp, ok := vkBindPoint(point)
	if !ok {
		c.fail(gpu.ErrRayTracingUnsupported)
		return
	}
	l, ok := c.dev.pipelineLayouts.get(uint64(layout))
	if !ok {
		c.fail(fmt.Errorf("bind with unknown pipeline layout %d", layout))
		return
	}
	handles := make([]vk.DescriptorSet, 0, len(sets))
	for _, s := range sets {
		set, ok := c.dev.sets.get(uint64(s))
		if !ok {
			c.fail(fmt.Errorf("bind of unknown descriptor set %d", s))
			return
		}
		handles = append(handles, set)
	}
	vk.CmdBindDescriptorSets(c.handle, bp, l, firstSet, uint32(len(handles)), handles, 0, nil)
}

func (c *commandBuffer) BindVertexBuffer(b gpu.Buffer, offset uint64) {
	vk.CmdBindVertexBuffers(c.handle, 0, 1, []vk.Buffer{c.dev.buffer(b)}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (c *commandBuffer) BindIndexBuffer(b gpu.Buffer, offset uint64, typ gpu.IndexType) {
	vk.CmdBindIndexBuffer(c.handle, c.dev.buffer(b), vk.DeviceSize(offset), vkIndexType(typ))
}

func (c *commandBuffer) PushConstants(layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	l, ok := c.dev.pipelineLayouts.get(uint64(layout))
	if !ok {
		c.fail(fmt.Errorf("push constants with unknown pipeline layout %d", layout))
		return
	}
	vk.CmdPushConstants(c.handle, l, vkShaderStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(c.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *commandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(c.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *commandBuffer) CopyBuffer(src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	if len(regions) == 0 {
		return
	}
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(c.handle, c.dev.buffer(src), c.dev.buffer(dst), uint32(len(copies)), copies)
}

func (c *commandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, layout gpu.ImageLayout, regions []gpu.BufferImageCopy) {
	if len(regions) == 0 {
		return
	}
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     vkAspect(r.Aspect),
				MipLevel:       r.MipLevel,
				BaseArrayLayer: r.BaseLayer,
				LayerCount:     max(r.LayerCount, 1),
			},
			ImageExtent: vk.Extent3D{
				Width:  r.Extent.Width,
				Height: r.Extent.Height,
				Depth:  max(r.Extent.Depth, 1),
			},
		}
	}
	vk.CmdCopyBufferToImage(c.handle, c.dev.buffer(src), c.dev.image(dst), vkLayout(layout), uint32(len(copies)), copies)
}

func (c *commandBuffer) CopyImage(src gpu.Image, srcLayout gpu.ImageLayout, dst gpu.Image, dstLayout gpu.ImageLayout, aspect gpu.Aspect, extent gpu.Extent3D) {
	layers := vk.ImageSubresourceLayers{
		AspectMask: vkAspect(aspect),
		LayerCount: 1,
	}
	region := vk.ImageCopy{
		SrcSubresource: layers,
		DstSubresource: layers,
		Extent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  max(extent.Depth, 1),
		},
	}
	vk.CmdCopyImage(c.handle, c.dev.image(src), vkLayout(srcLayout), c.dev.image(dst), vkLayout(dstLayout), 1, []vk.ImageCopy{region})
}

func (c *commandBuffer) TraceRays(gpu.SBTRegions, uint32, uint32, uint32) {
	c.fail(gpu.ErrRayTracingUnsupported)
}

func (c *commandBuffer) BuildAccelStructure(gpu.AccelBuildInfo) {
	c.fail(gpu.ErrRayTracingUnsupported)
}

func (c *commandBuffer) CopyAccelStructure(gpu.AccelStructure, gpu.AccelStructure, bool) {
	c.fail(gpu.ErrRayTracingUnsupported)
}

func (c *commandBuffer) WriteAccelStructureProperties([]gpu.AccelStructure, gpu.QueryPool, uint32) {
	c.fail(gpu.ErrRayTracingUnsupported)
}

func (c *commandBuffer) ResetQueryPool(gpu.QueryPool, uint32, uint32) {
	c.fail(gpu.ErrRayTracingUnsupported)
}
