package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type framebufferKey struct {
	pass   vk.RenderPass
	views  [maxColorAttachments + 1]gpu.ImageView
	count  int
	extent gpu.Extent2D
}

// framebuffer returns the cached framebuffer binding views to pass. Entries
// live until one of their views is destroyed.
func (d *Device) framebuffer(pass vk.RenderPass, views []gpu.ImageView, extent gpu.Extent2D) (vk.Framebuffer, error) {
	key := framebufferKey{pass: pass, count: len(views), extent: extent}
	copy(key.views[:], views)

	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if fb, ok := d.framebuffers[key]; ok {
		return fb, nil
	}

	attachments := make([]vk.ImageView, len(views))
	for i, v := range views {
		attachments[i] = d.view(v)
	}
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if err := check(vk.CreateFramebuffer(d.handle, &createInfo, nil, &fb), "vkCreateFramebuffer"); err != nil {
		return vk.NullFramebuffer, err
	}
	d.framebuffers[key] = fb
	return fb, nil
}

// forgetFramebuffers destroys the cached framebuffers that reference view.
func (d *Device) forgetFramebuffers(view gpu.ImageView) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	for key, fb := range d.framebuffers {
		for _, v := range key.views[:key.count] {
			if v == view {
				vk.DestroyFramebuffer(d.handle, fb, nil)
				delete(d.framebuffers, key)
				break
			}
		}
	}
}
