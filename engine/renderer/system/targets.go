package system

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

const (
	intermediateFormat = gpu.FormatR16G16B16A16Sfloat
	albedoFormat       = gpu.FormatR8G8B8A8Unorm
	normalFormat       = gpu.FormatR16G16B16A16Sfloat
	positionFormat     = gpu.FormatR32G32B32A32Sfloat
	motionFormat       = gpu.FormatR16G16Sfloat
	depthFormat        = gpu.FormatD32Sfloat
)

// targets are the screen-sized images the passes render into.
type targets struct {
	extent gpu.Extent2D

	intermediate *alloc.Image
	depth        *alloc.Image

	// hybrid
	albedo   *alloc.Image
	normal   *alloc.Image
	position *alloc.Image

	// path tracing
	previous     *alloc.Image
	motion       *alloc.Image
	prevPosition *alloc.Image

	swapchain []*alloc.Image
}

type targetSpec struct {
	dst    **alloc.Image
	name   string
	format gpu.Format
	usage  gpu.ImageUsage
}

func createTargets(a *alloc.Allocator, sc gpu.Swapchain, pathTrace bool) (*targets, error) {
	t := &targets{extent: sc.Extent}
	sampled := gpu.ImageUsageSampled
	color := gpu.ImageUsageColorAttachment | sampled

	specs := []targetSpec{
		{&t.intermediate, "intermediate", intermediateFormat, color | gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc},
		{&t.depth, "depth", depthFormat, gpu.ImageUsageDepthAttachment},
	}
	if pathTrace {
		specs = append(specs,
			targetSpec{&t.previous, "previous-frame", intermediateFormat, sampled | gpu.ImageUsageStorage | gpu.ImageUsageTransferDst},
			targetSpec{&t.motion, "motion-vectors", motionFormat, color | gpu.ImageUsageStorage},
			targetSpec{&t.position, "position", positionFormat, color | gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc},
			targetSpec{&t.prevPosition, "previous-position", positionFormat, sampled | gpu.ImageUsageStorage | gpu.ImageUsageTransferDst},
		)
	} else {
		specs = append(specs,
			targetSpec{&t.albedo, "gbuffer.albedo", albedoFormat, color},
			targetSpec{&t.normal, "gbuffer.normal", normalFormat, color},
			targetSpec{&t.position, "gbuffer.position", positionFormat, color},
		)
	}

	for _, s := range specs {
		img, err := a.CreateImage(alloc.ImageInfo{
			Format: s.format,
			Extent: sc.Extent.To3D(),
			Usage:  s.usage,
			Name:   s.name,
		}, alloc.LifetimeManaged)
		if err != nil {
			return nil, err
		}
		*s.dst = img
	}

	for i, h := range sc.Images {
		t.swapchain = append(t.swapchain, a.WrapImage(h, sc.Views[i], sc.Format, sc.Extent, fmt.Sprintf("swapchain%d", i)))
	}
	return t, nil
}

// prepare moves the images read before they are first written into the
// layouts the frame expects at its start.
func (t *targets) prepare(cb gpu.CommandBuffer, pathTrace bool) {
	t.intermediate.Transition(cb, gpu.LayoutUndefined, gpu.LayoutShaderReadOnly)
	if !pathTrace {
		for _, img := range []*alloc.Image{t.albedo, t.normal, t.position} {
			img.Transition(cb, gpu.LayoutUndefined, gpu.LayoutShaderReadOnly)
		}
		return
	}
	t.motion.Transition(cb, gpu.LayoutUndefined, gpu.LayoutShaderReadOnly)
	t.position.Transition(cb, gpu.LayoutUndefined, gpu.LayoutGeneral)
	t.previous.Transition(cb, gpu.LayoutUndefined, gpu.LayoutGeneral)
	t.prevPosition.Transition(cb, gpu.LayoutUndefined, gpu.LayoutGeneral)
}

func (t *targets) viewport() gpu.Viewport {
	return gpu.Viewport{Width: float32(t.extent.Width), Height: float32(t.extent.Height), MaxDepth: 1}
}

func (t *targets) scissor() gpu.Rect {
	return gpu.Rect{Width: t.extent.Width, Height: t.extent.Height}
}
