package system

import (
	"encoding/binary"
	"fmt"
	"path"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

const (
	maxOverlayGlyphs   = 512
	overlayVertexSize  = 16
	overlayGlyphStride = 6 * overlayVertexSize
	overlayRegionSize  = maxOverlayGlyphs * overlayGlyphStride
)

type overlayVertex struct {
	X, Y float32
	U, V float32
}

func overlayLayout() *gpu.VertexLayout {
	return &gpu.VertexLayout{
		Stride: overlayVertexSize,
		Attributes: []gpu.VertexAttribute{
			{Location: 0, Format: gpu.FormatR32G32Sfloat, Offset: 0},
			{Location: 1, Format: gpu.FormatR32G32Sfloat, Offset: 8},
		},
	}
}

// overlay draws debug text from a bitmap font. Each frame in flight owns one
// region of the host-visible vertex buffer.
type overlay struct {
	font       *loaders.Font
	atlas      *alloc.Image
	atlasIndex int32
	vertices   *alloc.Buffer
	counts     []uint32
}

// newOverlay loads the font and its first atlas page. The atlas page path is
// relative to the font file.
func (r *Renderer) newOverlay(fontPath string) (*overlay, error) {
	font, err := r.assets.LoadFont(fontPath)
	if err != nil {
		return nil, err
	}
	if len(font.Pages) == 0 {
		return nil, fmt.Errorf("font %s has no atlas page", fontPath)
	}
	px := r.assets.LoadTexture(path.Join(path.Dir(fontPath), font.Pages[0]), loaders.TextureDiffuse)
	atlas, err := r.uploadPixels(px, gpu.FormatR8G8B8A8Unorm, "font-atlas")
	if err != nil {
		return nil, err
	}
	vertices, err := r.allocator.CreateBuffer(alloc.BufferInfo{
		Size:   overlayRegionSize * uint64(r.framesInFlight),
		Usage:  gpu.BufferUsageVertex,
		Memory: gpu.MemoryCPUToGPU,
		Name:   "overlay.vertices",
	}, alloc.LifetimeManaged)
	if err != nil {
		return nil, err
	}
	return &overlay{
		font:     font,
		atlas:    atlas,
		vertices: vertices,
		counts:   make([]uint32, r.framesInFlight),
	}, nil
}

// quadVertices expands glyph quads into two triangles each.
func quadVertices(quads []loaders.Quad) []overlayVertex {
	out := make([]overlayVertex, 0, len(quads)*6)
	for _, q := range quads {
		tl := overlayVertex{q.X0, q.Y0, q.U0, q.V0}
		tr := overlayVertex{q.X1, q.Y0, q.U1, q.V0}
		bl := overlayVertex{q.X0, q.Y1, q.U0, q.V1}
		br := overlayVertex{q.X1, q.Y1, q.U1, q.V1}
		out = append(out, tl, bl, tr, tr, bl, br)
	}
	return out
}

// write lays out text into frame's region and returns the vertex count.
// Glyphs past the region capacity are dropped.
func (o *overlay) write(frame int, text string) (uint32, error) {
	quads := o.font.Layout(text, 8, 8)
	if len(quads) > maxOverlayGlyphs {
		quads = quads[:maxOverlayGlyphs]
	}
	data, err := binary.Append(nil, binary.LittleEndian, quadVertices(quads))
	if err != nil {
		return 0, err
	}
	if err := o.vertices.Write(uint64(frame)*overlayRegionSize, data); err != nil {
		return 0, err
	}
	o.counts[frame] = uint32(len(quads) * 6)
	return o.counts[frame], nil
}

func (r *Renderer) overlayText() string {
	fps, ms := r.metrics.Frame()
	text := fmt.Sprintf("frame %d\nfps %.0f (%.2f ms)", r.ring.FrameNumber(), fps, ms)
	if r.pathTrace {
		text += fmt.Sprintf("\naccumulated %d", r.accumulator.Frame()+1)
	}
	return text
}

// drawOverlay renders the debug text on top of the swapchain image, which
// must be in the color attachment layout.
func (r *Renderer) drawOverlay(cb gpu.CommandBuffer, frame int, target *alloc.Image) error {
	count, err := r.overlay.write(frame, r.overlayText())
	if err != nil {
		return err
	}
	cb.BeginRendering(gpu.RenderingInfo{Extent: r.targets.extent, Colors: []gpu.Attachment{target.Attachment(gpu.LoadOpLoad)}})
	r.setViewport(cb)
	if count > 0 {
		pass := r.passes.overlay
		pass.Bind(cb, r.sets, frame)
		pass.Push(cb, pushBytes(overlayPush{
			Atlas:  r.overlay.atlasIndex,
			Width:  float32(r.targets.extent.Width),
			Height: float32(r.targets.extent.Height),
		}))
		cb.BindVertexBuffer(r.overlay.vertices.Handle, uint64(frame)*overlayRegionSize)
		cb.Draw(count, 1, 0, 0)
	}
	cb.EndRendering()
	return nil
}
