package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

const maxColorAttachments = 8

type attachmentKey struct {
	format gpu.Format
	load   gpu.LoadOp
}

// renderPassKey identifies a single-subpass render pass. Passes that only
// differ in load ops are compatible, so pipelines are built against the
// all-clear variant and used with any of them.
type renderPassKey struct {
	colors     [maxColorAttachments]attachmentKey
	colorCount int
	depth      attachmentKey
	hasDepth   bool
}

func renderPassKeyFor(info gpu.RenderingInfo) renderPassKey {
	var key renderPassKey
	for i, c := range info.Colors {
		key.colors[i] = attachmentKey{format: c.Format, load: c.Load}
	}
	key.colorCount = len(info.Colors)
	if info.Depth != nil {
		key.depth = attachmentKey{format: info.Depth.Format, load: info.Depth.Load}
		key.hasDepth = true
	}
	return key
}

func pipelineRenderPassKey(colors []gpu.Format, depth gpu.Format) renderPassKey {
	var key renderPassKey
	for i, f := range colors {
		key.colors[i] = attachmentKey{format: f, load: gpu.LoadOpClear}
	}
	key.colorCount = len(colors)
	if depth != gpu.FormatUndefined {
		key.depth = attachmentKey{format: depth, load: gpu.LoadOpClear}
		key.hasDepth = true
	}
	return key
}

// renderPass returns the cached render pass for key, creating it on first
// use. Attachments enter and leave the pass in their attachment layouts;
// callers transition them with explicit barriers.
func (d *Device) renderPass(key renderPassKey) (vk.RenderPass, error) {
	if key.colorCount > maxColorAttachments {
		err := fmt.Errorf("%d color attachments exceed the limit of %d", key.colorCount, maxColorAttachments)
		core.LogError(err.Error())
		return vk.NullRenderPass, err
	}
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if rp, ok := d.renderPasses[key]; ok {
		return rp, nil
	}

	attachments := make([]vk.AttachmentDescription, 0, key.colorCount+1)
	colorRefs := make([]vk.AttachmentReference, 0, key.colorCount)
	for i := 0; i < key.colorCount; i++ {
		c := key.colors[i]
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         vkFormat(c.format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vkLoadOp(c.load),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if key.hasDepth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         vkFormat(key.depth.format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vkLoadOp(key.depth.load),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments) - 1),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit)
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		DstStageMask:  stages,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var rp vk.RenderPass
	if err := check(vk.CreateRenderPass(d.handle, &createInfo, nil, &rp), "vkCreateRenderPass"); err != nil {
		return vk.NullRenderPass, err
	}
	d.renderPasses[key] = rp
	d.log.Debug("render pass created", "colors", key.colorCount, "depth", key.hasDepth)
	return rp, nil
}

// destroyCaches releases every cached framebuffer and render pass.
func (d *Device) destroyCaches() {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	for key, fb := range d.framebuffers {
		vk.DestroyFramebuffer(d.handle, fb, nil)
		delete(d.framebuffers, key)
	}
	for key, rp := range d.renderPasses {
		vk.DestroyRenderPass(d.handle, rp, nil)
		delete(d.renderPasses, key)
	}
}
