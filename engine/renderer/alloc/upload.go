package alloc

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// UploadBuffer creates a device-local buffer holding data. The copy is
// followed by a barrier making it visible to dstStage/dstAccess, and the
// call returns once the GPU has executed both.
func (a *Allocator) UploadBuffer(sub Submitter, data []byte, info BufferInfo, dstStage gpu.PipelineStage, dstAccess gpu.Access) (*Buffer, error) {
	size := uint64(len(data))
	staging, err := a.CreateBuffer(BufferInfo{
		Size:   size,
		Usage:  gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryCPUToGPU,
		Name:   info.Name + ".staging",
	}, LifetimeManual)
	if err != nil {
		return nil, err
	}
	defer a.DestroyBuffer(staging)
	if err := staging.Write(0, data); err != nil {
		return nil, err
	}

	info.Size = size
	info.Usage |= gpu.BufferUsageTransferDst
	info.Memory = gpu.MemoryGPUOnly
	dst, err := a.CreateBuffer(info, LifetimeManaged)
	if err != nil {
		return nil, err
	}

	err = sub.Submit(func(cb gpu.CommandBuffer) error {
		cb.CopyBuffer(staging.Handle, dst.Handle, []gpu.BufferCopy{{Size: size}})
		cb.PipelineBarrier(gpu.Barriers{Buffers: []gpu.BufferBarrier{{
			Buffer:    dst.Handle,
			Size:      size,
			SrcStage:  gpu.StageTransfer,
			DstStage:  dstStage,
			SrcAccess: gpu.AccessTransferWrite,
			DstAccess: dstAccess,
		}}})
		return nil
	})
	if err != nil {
		err = fmt.Errorf("failed to upload buffer %s: %w", dst.Name, err)
		core.LogError(err.Error())
		return nil, err
	}
	return dst, nil
}

// UploadImage creates a sampled image from tightly packed pixels (all layers
// concatenated) and leaves it in LayoutShaderReadOnly.
func (a *Allocator) UploadImage(sub Submitter, pixels []byte, info ImageInfo) (*Image, error) {
	info.Usage |= gpu.ImageUsageTransferDst | gpu.ImageUsageSampled
	img, err := a.CreateImage(info, LifetimeManaged)
	if err != nil {
		return nil, err
	}

	expected := uint64(img.Extent.Width) * uint64(img.Extent.Height) * uint64(img.Format.BytesPerPixel()) * uint64(img.ArrayLayers)
	if uint64(len(pixels)) != expected {
		err = fmt.Errorf("image %s: got %d bytes of pixels, want %d", img.Name, len(pixels), expected)
		core.LogError(err.Error())
		return nil, err
	}

	staging, err := a.CreateBuffer(BufferInfo{
		Size:   expected,
		Usage:  gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryCPUToGPU,
		Name:   img.Name + ".staging",
	}, LifetimeManual)
	if err != nil {
		return nil, err
	}
	defer a.DestroyBuffer(staging)
	if err := staging.Write(0, pixels); err != nil {
		return nil, err
	}

	err = sub.Submit(func(cb gpu.CommandBuffer) error {
		img.Transition(cb, gpu.LayoutUndefined, gpu.LayoutTransferDst)
		cb.CopyBufferToImage(staging.Handle, img.Handle, gpu.LayoutTransferDst, []gpu.BufferImageCopy{{
			Aspect:     img.Aspect,
			LayerCount: img.ArrayLayers,
			Extent:     img.Extent,
		}})
		img.Transition(cb, gpu.LayoutTransferDst, gpu.LayoutShaderReadOnly)
		return nil
	})
	if err != nil {
		err = fmt.Errorf("failed to upload image %s: %w", img.Name, err)
		core.LogError(err.Error())
		return nil, err
	}
	return img, nil
}
