package alloc

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type layoutState struct {
	stage  gpu.PipelineStage
	access gpu.Access
}

const shaderStages = gpu.StageFragmentShader | gpu.StageComputeShader | gpu.StageRayTracingShader

// layoutStates is the single table every transition derives its masks from.
var layoutStates = map[gpu.ImageLayout]layoutState{
	gpu.LayoutUndefined:       {gpu.StageTopOfPipe, gpu.AccessNone},
	gpu.LayoutGeneral:         {shaderStages, gpu.AccessShaderRead | gpu.AccessShaderWrite},
	gpu.LayoutColorAttachment: {gpu.StageColorAttachmentOutput, gpu.AccessColorAttachmentRead | gpu.AccessColorAttachmentWrite},
	gpu.LayoutDepthAttachment: {gpu.StageEarlyFragmentTests | gpu.StageLateFragmentTests, gpu.AccessDepthStencilRead | gpu.AccessDepthStencilWrite},
	gpu.LayoutDepthReadOnly:   {gpu.StageEarlyFragmentTests | shaderStages, gpu.AccessDepthStencilRead | gpu.AccessShaderRead},
	gpu.LayoutShaderReadOnly:  {shaderStages, gpu.AccessShaderRead},
	gpu.LayoutTransferSrc:     {gpu.StageTransfer, gpu.AccessTransferRead},
	gpu.LayoutTransferDst:     {gpu.StageTransfer, gpu.AccessTransferWrite},
	gpu.LayoutPresentSrc:      {gpu.StageBottomOfPipe, gpu.AccessNone},
}

// Image is a GPU image together with its view and tracked layout state.
type Image struct {
	Handle      gpu.Image
	View        gpu.ImageView
	Format      gpu.Format
	Aspect      gpu.Aspect
	Extent      gpu.Extent3D
	MipLevels   uint32
	ArrayLayers uint32
	Name        string

	layout gpu.ImageLayout
	stage  gpu.PipelineStage
	access gpu.Access

	// acquire is the stage an externally owned image becomes available at,
	// zero for owned images.
	acquire gpu.PipelineStage

	owned    bool
	lifetime Lifetime
	key      Key
}

func (img *Image) Layout() gpu.ImageLayout {
	return img.layout
}

func (img *Image) Extent2D() gpu.Extent2D {
	return img.Extent.To2D()
}

// Discard forgets the contents, so the next transition may start from
// LayoutUndefined. Used for images fully overwritten every frame. The last
// stage and access stay tracked so the next write still waits on them. A
// wrapped image restarts from its acquire stage, which the acquire semaphore
// already orders against the previous use.
func (img *Image) Discard() {
	img.layout = gpu.LayoutUndefined
	if img.acquire != 0 {
		img.stage = img.acquire
		img.access = gpu.AccessNone
	}
}

// Transition records a barrier moving the image from one layout to another.
// from must match the tracked layout; a mismatch aborts.
func (img *Image) Transition(cb gpu.CommandBuffer, from, to gpu.ImageLayout) {
	core.Assert(from == img.layout, "image %s: transition declares %s but image is in %s", img.Name, from, img.layout)
	dst, ok := layoutStates[to]
	core.Assert(ok, "image %s: no state for layout %s", img.Name, to)

	cb.PipelineBarrier(gpu.Barriers{Images: []gpu.ImageBarrier{img.barrier(to, dst)}})

	img.layout = to
	img.stage = dst.stage
	img.access = dst.access
}

func (img *Image) barrier(to gpu.ImageLayout, dst layoutState) gpu.ImageBarrier {
	return gpu.ImageBarrier{
		Image:      img.Handle,
		OldLayout:  img.layout,
		NewLayout:  to,
		SrcStage:   img.stage,
		DstStage:   dst.stage,
		SrcAccess:  img.access,
		DstAccess:  dst.access,
		Aspect:     img.Aspect,
		MipCount:   img.MipLevels,
		LayerCount: img.ArrayLayers,
	}
}

// Attachment describes the image as a render target.
func (img *Image) Attachment(load gpu.LoadOp) gpu.Attachment {
	a := gpu.Attachment{
		View:   img.View,
		Format: img.Format,
		Load:   load,
	}
	if img.Format.IsDepth() {
		a.ClearDepth = 1
	}
	return a
}

// Sampled describes the image for a combined image sampler binding in its
// shader-readable layout.
func (img *Image) Sampled(sampler gpu.Sampler) gpu.ImageInfo {
	layout := gpu.LayoutShaderReadOnly
	if img.Format.IsDepth() {
		layout = gpu.LayoutDepthReadOnly
	}
	return gpu.ImageInfo{View: img.View, Sampler: sampler, Layout: layout}
}

// Storage describes the image for a storage image binding.
func (img *Image) Storage() gpu.ImageInfo {
	return gpu.ImageInfo{View: img.View, Layout: gpu.LayoutGeneral}
}
