package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type buffer struct {
	handle vk.Buffer
	memory vk.DeviceMemory
	size   uint64
	mapped []byte
	name   string
}

// image is either created by the device or borrowed from the swapchain, in
// which case it owns no memory and is never destroyed here.
type image struct {
	handle vk.Image
	memory vk.DeviceMemory
	owned  bool
	desc   gpu.ImageDesc
}

type imageView struct {
	handle vk.ImageView
	image  gpu.Image
}

// findMemoryIndex returns the first memory type allowed by typeFilter that
// has every flag of one of the candidates, trying candidates in order.
func (d *Device) findMemoryIndex(typeFilter uint32, candidates []vk.MemoryPropertyFlagBits) (uint32, bool) {
	for _, want := range candidates {
		for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
			d.memory.MemoryTypes[i].Deref()
			flags := vk.MemoryPropertyFlagBits(d.memory.MemoryTypes[i].PropertyFlags)
			if typeFilter&(1<<i) != 0 && flags&want == want {
				return i, true
			}
		}
	}
	return 0, false
}

func (d *Device) allocateMemory(req vk.MemoryRequirements, usage gpu.MemoryUsage, name string) (vk.DeviceMemory, error) {
	req.Deref()
	index, ok := d.findMemoryIndex(req.MemoryTypeBits, memoryProperties(usage))
	if !ok {
		err := fmt.Errorf("no suitable memory type for %s", name)
		core.LogError(err.Error())
		return vk.NullDeviceMemory, err
	}
	var mem vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.handle, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: index,
	}, nil, &mem), "vkAllocateMemory "+name); err != nil {
		return vk.NullDeviceMemory, err
	}
	return mem, nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		err := fmt.Errorf("buffer %s has zero size", desc.Name)
		core.LogError(err.Error())
		return 0, err
	}
	usage, err := vkBufferUsage(desc.Usage)
	if err != nil {
		core.LogError(err.Error())
		return 0, err
	}

	b := &buffer{size: desc.Size, name: desc.Name}
	if err := check(vk.CreateBuffer(d.handle, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Usage:       usage,
		Size:        vk.DeviceSize(desc.Size),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b.handle), "vkCreateBuffer "+desc.Name); err != nil {
		return 0, err
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, b.handle, &req)
	if b.memory, err = d.allocateMemory(req, desc.Memory, desc.Name); err != nil {
		d.releaseBuffer(b)
		return 0, err
	}
	if err := check(vk.BindBufferMemory(d.handle, b.handle, b.memory, 0), "vkBindBufferMemory "+desc.Name); err != nil {
		d.releaseBuffer(b)
		return 0, err
	}

	if desc.Memory.HostVisible() {
		var ptr unsafe.Pointer
		if err := check(vk.MapMemory(d.handle, b.memory, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr), "vkMapMemory "+desc.Name); err != nil {
			d.releaseBuffer(b)
			return 0, err
		}
		b.mapped = unsafe.Slice((*byte)(ptr), desc.Size)
	}
	return gpu.Buffer(d.buffers.add(b)), nil
}

func (d *Device) releaseBuffer(b *buffer) {
	if b.mapped != nil {
		vk.UnmapMemory(d.handle, b.memory)
		b.mapped = nil
	}
	if b.handle != vk.NullBuffer {
		vk.DestroyBuffer(d.handle, b.handle, nil)
		b.handle = vk.NullBuffer
	}
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(d.handle, b.memory, nil)
		b.memory = vk.NullDeviceMemory
	}
}

func (d *Device) DestroyBuffer(h gpu.Buffer) {
	if b, ok := d.buffers.remove(uint64(h)); ok {
		d.releaseBuffer(b)
	}
}

func (d *Device) MapBuffer(h gpu.Buffer) ([]byte, error) {
	b, ok := d.buffers.get(uint64(h))
	if !ok {
		return nil, fmt.Errorf("unknown buffer %d", h)
	}
	if b.mapped == nil {
		return nil, fmt.Errorf("buffer %s is not host visible", b.name)
	}
	return b.mapped, nil
}

// BufferAddress needs VK_KHR_buffer_device_address, which the binding lacks.
func (d *Device) BufferAddress(h gpu.Buffer) (gpu.DeviceAddress, error) {
	return 0, gpu.ErrRayTracingUnsupported
}

func (d *Device) buffer(h gpu.Buffer) vk.Buffer {
	if b, ok := d.buffers.get(uint64(h)); ok {
		return b.handle
	}
	return vk.NullBuffer
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.ArrayLayers == 0 {
		desc.ArrayLayers = 1
	}
	var flags vk.ImageCreateFlags
	if desc.Cube {
		flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
		desc.ArrayLayers = 6
	}
	if desc.Extent.Depth == 0 {
		desc.Extent.Depth = 1
	}

	img := &image{owned: true, desc: desc}
	if err := check(vk.CreateImage(d.handle, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     flags,
		ImageType: vk.ImageType2d,
		Format:    vkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  desc.Extent.Depth,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.ArrayLayers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img.handle), "vkCreateImage "+desc.Name); err != nil {
		return 0, err
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, img.handle, &req)
	var err error
	if img.memory, err = d.allocateMemory(req, gpu.MemoryGPUOnly, desc.Name); err != nil {
		d.releaseImage(img)
		return 0, err
	}
	if err := check(vk.BindImageMemory(d.handle, img.handle, img.memory, 0), "vkBindImageMemory "+desc.Name); err != nil {
		d.releaseImage(img)
		return 0, err
	}
	return gpu.Image(d.images.add(img)), nil
}

func (d *Device) releaseImage(img *image) {
	if !img.owned {
		return
	}
	if img.handle != vk.NullImage {
		vk.DestroyImage(d.handle, img.handle, nil)
		img.handle = vk.NullImage
	}
	if img.memory != vk.NullDeviceMemory {
		vk.FreeMemory(d.handle, img.memory, nil)
		img.memory = vk.NullDeviceMemory
	}
}

func (d *Device) DestroyImage(h gpu.Image) {
	if img, ok := d.images.remove(uint64(h)); ok {
		d.releaseImage(img)
	}
}

func (d *Device) image(h gpu.Image) vk.Image {
	if img, ok := d.images.get(uint64(h)); ok {
		return img.handle
	}
	return vk.NullImage
}

func defaultAspect(f gpu.Format) gpu.Aspect {
	switch {
	case f == gpu.FormatD24UnormS8Uint:
		return gpu.AspectDepth | gpu.AspectStencil
	case f.IsDepth():
		return gpu.AspectDepth
	}
	return gpu.AspectColor
}

func (d *Device) CreateImageView(h gpu.Image, desc gpu.ViewDesc) (gpu.ImageView, error) {
	img, ok := d.images.get(uint64(h))
	if !ok {
		err := fmt.Errorf("image view of unknown image %d", h)
		core.LogError(err.Error())
		return 0, err
	}
	view, err := d.createView(img.handle, img.desc, desc)
	if err != nil {
		return 0, err
	}
	return gpu.ImageView(d.views.add(&imageView{handle: view, image: h})), nil
}

func (d *Device) createView(handle vk.Image, img gpu.ImageDesc, desc gpu.ViewDesc) (vk.ImageView, error) {
	if desc.Format == gpu.FormatUndefined {
		desc.Format = img.Format
	}
	if desc.Aspect == 0 {
		desc.Aspect = defaultAspect(desc.Format)
	}
	if desc.MipCount == 0 {
		desc.MipCount = max(img.MipLevels, 1) - desc.BaseMip
	}
	if desc.LayerCount == 0 {
		desc.LayerCount = max(img.ArrayLayers, 1) - desc.BaseLayer
	}
	viewType := vk.ImageViewType2d
	switch {
	case desc.Cube:
		viewType = vk.ImageViewTypeCube
	case desc.LayerCount > 1:
		viewType = vk.ImageViewType2dArray
	}

	var view vk.ImageView
	err := check(vk.CreateImageView(d.handle, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handle,
		ViewType: viewType,
		Format:   vkFormat(desc.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vkAspect(desc.Aspect),
			BaseMipLevel:   desc.BaseMip,
			LevelCount:     desc.MipCount,
			BaseArrayLayer: desc.BaseLayer,
			LayerCount:     desc.LayerCount,
		},
	}, nil, &view), "vkCreateImageView")
	return view, err
}

// DestroyImageView also drops every cached framebuffer that references the
// view.
func (d *Device) DestroyImageView(h gpu.ImageView) {
	v, ok := d.views.remove(uint64(h))
	if !ok {
		return
	}
	d.forgetFramebuffers(h)
	vk.DestroyImageView(d.handle, v.handle, nil)
}

func (d *Device) view(h gpu.ImageView) vk.ImageView {
	if v, ok := d.views.get(uint64(h)); ok {
		return v.handle
	}
	return vk.NullImageView
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	magFilter, mipmap := vkFilter(desc.MagFilter)
	minFilter, _ := vkFilter(desc.MinFilter)
	address := vkAddressMode(desc.AddressMode)

	anisotropy := min(desc.MaxAnisotropy, d.properties.Limits.MaxSamplerAnisotropy)
	enable := vk.Bool32(vk.False)
	if anisotropy > 1 {
		enable = vk.True
	}

	var s vk.Sampler
	if err := check(vk.CreateSampler(d.handle, &vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        magFilter,
		MinFilter:        minFilter,
		MipmapMode:       mipmap,
		AddressModeU:     address,
		AddressModeV:     address,
		AddressModeW:     address,
		AnisotropyEnable: enable,
		MaxAnisotropy:    anisotropy,
		CompareOp:        vk.CompareOpAlways,
		MaxLod:           desc.MaxLod,
		BorderColor:      vk.BorderColorIntOpaqueBlack,
	}, nil, &s), "vkCreateSampler"); err != nil {
		return 0, err
	}
	return gpu.Sampler(d.samplers.add(s)), nil
}

func (d *Device) DestroySampler(h gpu.Sampler) {
	if s, ok := d.samplers.remove(uint64(h)); ok {
		vk.DestroySampler(d.handle, s, nil)
	}
}

func (d *Device) sampler(h gpu.Sampler) vk.Sampler {
	if s, ok := d.samplers.get(uint64(h)); ok {
		return s
	}
	return vk.NullSampler
}
