package vulkan

import (
	"errors"
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type swapchain struct {
	handle vk.Swapchain
	format vk.SurfaceFormat
	extent vk.Extent2D
	images []gpu.Image
	views  []gpu.ImageView
}

type swapchainSupportInfo struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func (d *Device) querySwapchainSupport() (swapchainSupportInfo, error) {
	var info swapchainSupportInfo
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &info.capabilities), "vkGetPhysicalDeviceSurfaceCapabilities"); err != nil {
		return info, err
	}
	info.capabilities.Deref()
	info.capabilities.CurrentExtent.Deref()
	info.capabilities.MinImageExtent.Deref()
	info.capabilities.MaxImageExtent.Deref()

	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, nil), "vkGetPhysicalDeviceSurfaceFormats"); err != nil {
		return info, err
	}
	info.formats = make([]vk.SurfaceFormat, count)
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, info.formats), "vkGetPhysicalDeviceSurfaceFormats"); err != nil {
		return info, err
	}
	for i := range info.formats {
		info.formats[i].Deref()
	}

	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, nil), "vkGetPhysicalDeviceSurfacePresentModes"); err != nil {
		return info, err
	}
	info.presentModes = make([]vk.PresentMode, count)
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, info.presentModes), "vkGetPhysicalDeviceSurfacePresentModes"); err != nil {
		return info, err
	}
	if len(info.formats) == 0 || len(info.presentModes) == 0 {
		err := errors.New("surface has no formats or present modes")
		core.LogError(err.Error())
		return info, err
	}
	return info, nil
}

// chooseSurfaceFormat prefers an sRGB BGRA surface and falls back to the
// first format the surface offers.
func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	return vk.PresentModeFifo
}

func clamp(v, lo, hi uint32) uint32 {
	return max(lo, min(v, hi))
}

func (d *Device) createSwapchain(width, height uint32) error {
	support, err := d.querySwapchainSupport()
	if err != nil {
		return err
	}
	d.support = support
	caps := support.capabilities

	sc := &swapchain{
		format: chooseSurfaceFormat(support.formats),
		extent: vk.Extent2D{Width: width, Height: height},
	}
	if caps.CurrentExtent.Width != vk.MaxUint32 {
		sc.extent = caps.CurrentExtent
	}
	sc.extent.Width = clamp(sc.extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	sc.extent.Height = clamp(sc.extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.format.Format,
		ImageColorSpace:  sc.format.ColorSpace,
		ImageExtent:      sc.extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      choosePresentMode(support.presentModes),
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}
	if d.queues.graphics != d.queues.present {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{d.queues.graphics, d.queues.present}
	}
	if err := check(vk.CreateSwapchain(d.handle, &createInfo, nil, &sc.handle), "vkCreateSwapchain"); err != nil {
		return err
	}
	d.swapchain = sc

	var count uint32
	if err := check(vk.GetSwapchainImages(d.handle, sc.handle, &count, nil), "vkGetSwapchainImages"); err != nil {
		return err
	}
	handles := make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.handle, sc.handle, &count, handles), "vkGetSwapchainImages"); err != nil {
		return err
	}

	desc := gpu.ImageDesc{
		Format:      gpuFormat(sc.format.Format),
		Extent:      gpu.Extent3D{Width: sc.extent.Width, Height: sc.extent.Height, Depth: 1},
		MipLevels:   1,
		ArrayLayers: 1,
		Usage:       gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferDst,
		Name:        "swapchain",
	}
	for _, h := range handles {
		img := gpu.Image(d.images.add(&image{handle: h, desc: desc}))
		sc.images = append(sc.images, img)
		view, err := d.CreateImageView(img, gpu.ViewDesc{})
		if err != nil {
			return err
		}
		sc.views = append(sc.views, view)
	}
	d.log.Info("swapchain created", "images", count, "width", sc.extent.Width, "height", sc.extent.Height, "format", desc.Format)
	return nil
}

func (d *Device) destroySwapchain() {
	sc := d.swapchain
	if sc == nil {
		return
	}
	for _, v := range sc.views {
		d.DestroyImageView(v)
	}
	for _, img := range sc.images {
		d.images.remove(uint64(img))
	}
	vk.DestroySwapchain(d.handle, sc.handle, nil)
	d.swapchain = nil
}

func (d *Device) Swapchain() gpu.Swapchain {
	sc := d.swapchain
	return gpu.Swapchain{
		Format: gpuFormat(sc.format.Format),
		Extent: gpu.Extent2D{Width: sc.extent.Width, Height: sc.extent.Height},
		Images: append([]gpu.Image(nil), sc.images...),
		Views:  append([]gpu.ImageView(nil), sc.views...),
	}
}

// AcquireNextImage returns gpu.ErrOutOfDate when the surface no longer
// matches the swapchain. A suboptimal swapchain is still used.
func (d *Device) AcquireNextImage(signal gpu.Semaphore, timeout time.Duration) (uint32, error) {
	sem, _ := d.semaphores.get(uint64(signal))
	var index uint32
	res := vk.AcquireNextImage(d.handle, d.swapchain.handle, timeoutNanos(timeout), sem, vk.NullFence, &index)
	switch res {
	case vk.Success, vk.Suboptimal:
		return index, nil
	case vk.ErrorOutOfDate:
		return 0, gpu.ErrOutOfDate
	case vk.Timeout, vk.NotReady:
		return 0, gpu.ErrTimeout
	}
	return 0, check(res, "vkAcquireNextImage")
}

func (d *Device) Present(wait gpu.Semaphore, imageIndex uint32) error {
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{d.swapchain.handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if sem, ok := d.semaphores.get(uint64(wait)); ok {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{sem}
	}
	var res vk.Result
	d.locks.SafeQueueCall(d.queues.present, func() error {
		res = vk.QueuePresent(d.presentQueue, &info)
		return nil
	})
	switch res {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return gpu.ErrOutOfDate
	}
	err := fmt.Errorf("failed to present swapchain image %d: %s", imageIndex, VulkanResultString(res))
	core.LogError(err.Error())
	return err
}
