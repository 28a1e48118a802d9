package system

import (
	"encoding/binary"
	"errors"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/scene"
)

type fakeAssets struct {
	font     *loaders.Font
	mu       sync.Mutex
	textures []string
}

func (a *fakeAssets) LoadShader(name string) ([]byte, error) {
	return []byte{0x03, 0x02, 0x23, 0x07}, nil
}

func (a *fakeAssets) LoadTexture(p string, kind loaders.TextureKind) *loaders.Pixels {
	a.mu.Lock()
	a.textures = append(a.textures, p)
	a.mu.Unlock()
	return loaders.Placeholder(kind)
}

func (a *fakeAssets) LoadFont(rel string) (*loaders.Font, error) {
	if a.font == nil {
		return nil, errors.New("no font")
	}
	return a.font, nil
}

func debugFont() *loaders.Font {
	f := &loaders.Font{LineHeight: 10, AtlasW: 128, AtlasH: 128, Pages: []string{"debug_0.png"}, Glyphs: map[rune]loaders.Glyph{}}
	for r := rune(32); r < 127; r++ {
		f.Glyphs[r] = loaders.Glyph{Width: 6, Height: 8, XAdvance: 7}
	}
	return f
}

func triangleScene(objects int) *scene.Scene {
	s := scene.New()
	mats := s.AddMaterials(scene.Materials{
		Names:   []string{"red"},
		Diffuse: []string{"red.png"},
		Normal:  []string{"red_normal.png"},
	})
	mesh := s.AddMesh(scene.MeshData{
		Name: "triangle",
		Vertices: []scene.Vertex{
			{Position: math.NewVec3(0, 0, 0)},
			{Position: math.NewVec3(1, 0, 0)},
			{Position: math.NewVec3(0, 1, 0)},
		},
		Indices: []uint32{0, 1, 2},
	})
	for i := 0; i < objects; i++ {
		s.Push(mesh, mats[0], math.NewMat4Translation(math.NewVec3(float32(i), 0, 0)))
	}
	return s
}

func rendererConfig(mode config.RenderMode) config.RendererConfig {
	cfg := config.Default().Renderer
	cfg.Mode = mode
	return cfg
}

func newRenderer(t *testing.T, dev *gputest.Device, cfg config.RendererConfig, assets *fakeAssets, font string) *Renderer {
	r := New(dev, assets, cfg, font)
	require.NoError(t, r.Initialize(triangleScene(2)))
	return r
}

func camera() scene.CameraSnapshot {
	return scene.NewCamera().Snapshot(16.0 / 9.0)
}

// frameSubmissions skips immediate submits, which wait on no semaphore.
func frameSubmissions(dev *gputest.Device) []gputest.Submission {
	var out []gputest.Submission
	for _, s := range dev.Submissions {
		if len(s.Info.Wait) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func lastFrame(t *testing.T, dev *gputest.Device) []gputest.Command {
	subs := frameSubmissions(dev)
	require.NotEmpty(t, subs)
	return subs[len(subs)-1].Commands
}

// tracedFrame returns the accumulation counter pushed before the trace.
func tracedFrame(cmds []gputest.Command) (int32, bool) {
	for i, c := range cmds {
		if c.Name == "trace-rays" {
			push := cmds[i-1].Args.(gputest.PushConstantsArgs)
			return int32(binary.LittleEndian.Uint32(push.Data)), true
		}
	}
	return 0, false
}

func barriers(cmds []gputest.Command) []gpu.ImageBarrier {
	var out []gpu.ImageBarrier
	for _, c := range gputest.Filter(cmds, "barrier") {
		out = append(out, c.Args.(gpu.Barriers).Images...)
	}
	return out
}

func TestUniformOffset(t *testing.T) {
	assert.Equal(t, uint64(0), UniformOffset(0, 416, 816, 256))
	assert.Equal(t, uint64(1280), UniformOffset(1, 416, 816, 256))
	assert.Equal(t, uint64(2560), UniformOffset(2, 416, 816, 256))
	assert.Equal(t, uint64(240), UniformOffset(2, 100, 20, 0))
	assert.Equal(t, uint64(1280), UniformStride(scene.CameraSize, scene.LightingSize, 256))
}

func TestAccumulatorResetRule(t *testing.T) {
	a := NewAccumulator(1 << 40)
	assert.Equal(t, int64(-1), a.Frame())

	cam := camera()
	require.True(t, a.Advance(cam, false))
	assert.Equal(t, int64(0), a.Frame())
	require.True(t, a.Advance(cam, false))
	assert.Equal(t, int64(1), a.Frame())

	moved := cam
	moved.Position = math.NewVec3(0, 0, 1)
	require.True(t, a.Advance(moved, false))
	assert.Equal(t, int64(0), a.Frame(), "a moved camera restarts accumulation")

	moved.Position = math.NewVec3(0, 0, 2)
	require.True(t, a.Advance(moved, true))
	assert.Equal(t, int64(1), a.Frame(), "motion vectors keep accumulating")
	moved.FOV = 1
	require.True(t, a.Advance(moved, true))
	assert.Equal(t, int64(2), a.Frame())
}

func TestAccumulatorCeiling(t *testing.T) {
	a := NewAccumulator(1)
	cam := camera()
	assert.True(t, a.Advance(cam, false))
	assert.True(t, a.Advance(cam, false))
	assert.False(t, a.Advance(cam, false))
	assert.Equal(t, int64(1), a.Frame())

	moved := cam
	moved.Position = math.NewVec3(3, 0, 0)
	assert.True(t, a.Advance(moved, false))
	assert.Equal(t, int64(0), a.Frame())
}

func TestPathTraceNeedsRayTracing(t *testing.T) {
	r := New(gputest.NewDevice(false), &fakeAssets{}, rendererConfig(config.RenderModePathTrace), "")
	err := r.Initialize(triangleScene(1))
	require.ErrorIs(t, err, ErrMissingFeatures)
	require.NoError(t, r.Shutdown())
}

func TestInitializeHybrid(t *testing.T) {
	dev := gputest.NewDevice(false)
	assets := &fakeAssets{}
	r := newRenderer(t, dev, rendererConfig(config.RenderModeHybrid), assets, "")

	assert.Nil(t, r.accel)
	assert.Nil(t, r.overlay)
	assert.NotNil(t, r.passes.gbuffer)
	assert.NotNil(t, r.passes.lighting)
	assert.NotNil(t, r.passes.skybox)
	assert.NotNil(t, r.passes.post)
	assert.False(t, r.passes.lighting.Sets.Has(descriptors.SetTLAS))
	assert.ElementsMatch(t, []string{"red.png", "red_normal.png"}, assets.textures)

	for _, m := range r.scene.Meshes {
		require.NotNil(t, m.VertexBuffer)
		assert.Zero(t, dev.Buffers[m.VertexBuffer.Handle].Desc.Usage&gpu.BufferUsageAccelStructureInput)
	}
	for _, id := range []descriptors.SetID{descriptors.SetGlobal, descriptors.SetObjects, descriptors.SetDiffuseTextures, descriptors.SetSkybox, descriptors.SetGBuffer, descriptors.SetPostProcess} {
		assert.True(t, r.sets.IsRegistered(id), id.String())
	}
	assert.True(t, r.sets.IsPerFrame(descriptors.SetGlobal))
	assert.Len(t, r.sets.Writes(descriptors.SetGlobal), r.framesInFlight)
	assert.False(t, r.sets.IsRegistered(descriptors.SetTLAS))
	require.NoError(t, r.Shutdown())
}

func TestHybridFrameSequence(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRenderer(t, dev, rendererConfig(config.RenderModeHybrid), &fakeAssets{}, "")
	require.NoError(t, r.Draw(camera(), scene.Toggles{}))

	cmds := lastFrame(t, dev)
	assert.Len(t, gputest.Filter(cmds, "begin-rendering"), 4, "gbuffer, lighting, skybox, fxaa")
	assert.Len(t, gputest.Filter(cmds, "draw-indexed"), 2)
	assert.Len(t, gputest.Filter(cmds, "bind-vertex-buffer"), 1, "objects sharing a mesh bind it once")
	assert.Empty(t, gputest.Filter(cmds, "trace-rays"))

	imgs := barriers(cmds)
	require.NotEmpty(t, imgs)
	assert.Equal(t, r.targets.intermediate.Handle, imgs[0].Image)
	assert.Equal(t, gpu.LayoutShaderReadOnly, imgs[0].OldLayout)
	assert.Equal(t, gpu.LayoutColorAttachment, imgs[0].NewLayout)

	last := imgs[len(imgs)-1]
	assert.Equal(t, dev.SwapchainInfo.Images[0], last.Image)
	assert.Equal(t, gpu.LayoutColorAttachment, last.OldLayout)
	assert.Equal(t, gpu.LayoutPresentSrc, last.NewLayout)
	assert.Equal(t, "barrier", cmds[len(cmds)-1].Name)

	gbufferEnd := -1
	lightingBegin := -1
	for i, c := range cmds {
		if c.Name == "end-rendering" && gbufferEnd < 0 {
			gbufferEnd = i
		}
		if c.Name == "begin-rendering" && gbufferEnd >= 0 && lightingBegin < 0 {
			lightingBegin = i
		}
	}
	between := barriers(cmds[gbufferEnd:lightingBegin])
	require.Len(t, between, 3)
	for _, b := range between {
		assert.Equal(t, gpu.LayoutShaderReadOnly, b.NewLayout)
	}
	assert.Equal(t, []uint32{0}, dev.Presented)
	require.NoError(t, r.Shutdown())
}

func TestDiscardedTargetsWaitOnPreviousUse(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRenderer(t, dev, rendererConfig(config.RenderModeHybrid), &fakeAssets{}, "")
	for f := 0; f < 4; f++ {
		require.NoError(t, r.Draw(camera(), scene.Toggles{}))
	}

	var depth, swapchain []gpu.ImageBarrier
	for _, b := range barriers(lastFrame(t, dev)) {
		if b.OldLayout != gpu.LayoutUndefined {
			continue
		}
		switch b.NewLayout {
		case gpu.LayoutDepthAttachment:
			depth = append(depth, b)
		case gpu.LayoutColorAttachment:
			swapchain = append(swapchain, b)
		}
	}

	require.Len(t, depth, 1)
	assert.Equal(t, r.targets.depth.Handle, depth[0].Image)
	assert.NotZero(t, depth[0].SrcStage&gpu.StageLateFragmentTests, "the shared depth image is cleared after the previous frame's depth writes")
	assert.NotZero(t, depth[0].SrcAccess&gpu.AccessDepthStencilWrite)

	require.Len(t, swapchain, 1)
	assert.Contains(t, dev.SwapchainInfo.Images, swapchain[0].Image)
	assert.Equal(t, gpu.StageColorAttachmentOutput, swapchain[0].SrcStage, "acquire semaphore waits at color output")
	assert.Equal(t, gpu.AccessNone, swapchain[0].SrcAccess)
	require.NoError(t, r.Shutdown())
}

// headerDefines parses the #define lines of the generated set header.
func headerDefines(t *testing.T) map[string]uint32 {
	out := map[string]uint32{}
	for _, line := range strings.Split(descriptors.GLSLHeader(), "\n") {
		f := strings.Fields(line)
		if len(f) != 3 || f[0] != "#define" {
			continue
		}
		n, err := strconv.Atoi(f[2])
		require.NoError(t, err, line)
		out[f[1]] = uint32(n)
	}
	return out
}

func macro(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func TestSetHeaderMatchesBoundLayouts(t *testing.T) {
	defines := headerDefines(t)
	for _, mode := range []config.RenderMode{config.RenderModeHybrid, config.RenderModePathTrace} {
		dev := gputest.NewDevice(true)
		r := newRenderer(t, dev, rendererConfig(mode), &fakeAssets{}, "")

		built := []*pipeline.Pass{r.passes.gbuffer, r.passes.lighting, r.passes.skybox, r.passes.motion, r.passes.trace, r.passes.post}
		checked := 0
		for _, pass := range built {
			if pass == nil {
				continue
			}
			layouts := dev.PipelineLayouts[pass.Layout]
			for _, id := range pass.Sets.IDs() {
				name := macro(pass.Name) + "_SET_" + macro(id.String())
				want, ok := defines[name]
				require.True(t, ok, "%s missing from the header", name)
				require.Less(t, int(want), len(layouts), name)
				assert.Equal(t, r.sets.GetLayouts(descriptors.MaskOf(id))[0], layouts[want], name)
				checked++
			}
		}
		assert.NotZero(t, checked, mode)
		require.NoError(t, r.Shutdown())
	}
}

func TestFramesRoundRobin(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRenderer(t, dev, rendererConfig(config.RenderModeHybrid), &fakeAssets{}, "")
	for f := 0; f < 10; f++ {
		require.NoError(t, r.Draw(camera(), scene.Toggles{}))
	}

	subs := frameSubmissions(dev)
	require.Len(t, subs, 10)
	distinct := map[*gputest.CommandBuffer]bool{}
	for f, s := range subs {
		assert.Same(t, r.ring.Frame(f%3).CommandBuffer, s.CommandBuffer, "frame %d", f)
		distinct[s.CommandBuffer] = true
	}
	assert.Len(t, distinct, 3)
	assert.Equal(t, uint64(10), r.FrameNumber())
	require.NoError(t, r.Shutdown())
}

func TestUniformsWrittenToFrameRegion(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRenderer(t, dev, rendererConfig(config.RenderModeHybrid), &fakeAssets{}, "")

	first := camera()
	second := first
	second.Position = math.NewVec3(0, 2, 0)
	require.NoError(t, r.Draw(first, scene.Toggles{}))
	require.NoError(t, r.Draw(second, scene.Toggles{}))

	stride := r.uniformStride
	mapped := r.uniforms.Mapped
	assert.Equal(t, scene.NewCameraUniform(first, first).Bytes(), mapped[:scene.CameraSize])
	assert.Equal(t, scene.NewCameraUniform(second, first).Bytes(), mapped[stride:stride+scene.CameraSize])
	assert.Equal(t, r.scene.Lighting().Bytes(), mapped[stride+scene.CameraSize:stride+scene.CameraSize+scene.LightingSize])
	assert.Equal(t, scene.EncodeObjects(r.objects), r.ring.Frame(1).ObjectBuffer.Mapped[:2*scene.ObjectDataSize])
	require.NoError(t, r.Shutdown())
}

func TestHybridWithRayTracingReadsTopLevel(t *testing.T) {
	dev := gputest.NewDevice(true)
	r := newRenderer(t, dev, rendererConfig(config.RenderModeHybrid), &fakeAssets{}, "")

	require.NotNil(t, r.accel)
	assert.True(t, r.passes.lighting.Sets.Has(descriptors.SetTLAS))
	assert.Equal(t, 1, r.accel.BlasCount())
	require.NoError(t, r.Draw(camera(), scene.Toggles{}))

	pushes := gputest.Filter(lastFrame(t, dev), "push-constants")
	require.NotEmpty(t, pushes)
	lighting := pushes[0].Args.(gputest.PushConstantsArgs)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(lighting.Data), "shadows on")
	require.NoError(t, r.Shutdown())
}

func TestPathTraceAccumulates(t *testing.T) {
	dev := gputest.NewDevice(true)
	r := newRenderer(t, dev, rendererConfig(config.RenderModePathTrace), &fakeAssets{}, "")
	require.NotNil(t, r.passes.trace)
	require.NotNil(t, r.passes.trace.SBT)

	cam := camera()
	for want := int32(0); want < 3; want++ {
		require.NoError(t, r.Draw(cam, scene.Toggles{}))
		got, ok := tracedFrame(lastFrame(t, dev))
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	cmds := lastFrame(t, dev)
	copies := gputest.Filter(cmds, "copy-image")
	require.Len(t, copies, 2)
	assert.Equal(t, r.targets.intermediate.Handle, copies[0].Args.(gputest.CopyImageArgs).Src)
	assert.Equal(t, r.targets.previous.Handle, copies[0].Args.(gputest.CopyImageArgs).Dst)
	assert.Equal(t, r.targets.prevPosition.Handle, copies[1].Args.(gputest.CopyImageArgs).Dst)

	moved := cam
	moved.Position = math.NewVec3(0, 0, 5)
	require.NoError(t, r.Draw(moved, scene.Toggles{}))
	got, _ := tracedFrame(lastFrame(t, dev))
	assert.Equal(t, int32(0), got)

	moved.Position = math.NewVec3(0, 0, 6)
	require.NoError(t, r.Draw(moved, scene.Toggles{MotionVectors: true}))
	got, _ = tracedFrame(lastFrame(t, dev))
	assert.Equal(t, int32(1), got)
	require.NoError(t, r.Shutdown())
}

func TestPathTraceStopsAtCeiling(t *testing.T) {
	dev := gputest.NewDevice(true)
	cfg := rendererConfig(config.RenderModePathTrace)
	cfg.MaxAccumulatedFrames = 1
	r := newRenderer(t, dev, cfg, &fakeAssets{}, "")

	cam := camera()
	for i := 0; i < 2; i++ {
		require.NoError(t, r.Draw(cam, scene.Toggles{}))
		_, ok := tracedFrame(lastFrame(t, dev))
		assert.True(t, ok)
	}
	require.NoError(t, r.Draw(cam, scene.Toggles{}))
	cmds := lastFrame(t, dev)
	_, ok := tracedFrame(cmds)
	assert.False(t, ok)
	assert.Len(t, gputest.Filter(cmds, "begin-rendering"), 1, "only the denoiser runs")
	assert.Len(t, dev.Presented, 3)
	require.NoError(t, r.Shutdown())
}

func TestDebugOverlay(t *testing.T) {
	dev := gputest.NewDevice(false)
	assets := &fakeAssets{font: debugFont()}
	r := newRenderer(t, dev, rendererConfig(config.RenderModeHybrid), assets, "fonts/debug.fnt")
	require.NotNil(t, r.overlay)
	assert.Contains(t, assets.textures, path.Join("fonts", "debug_0.png"))
	assert.Equal(t, int32(len(r.textures)), r.overlay.atlasIndex)

	require.NoError(t, r.Draw(camera(), scene.Toggles{}))
	assert.Len(t, gputest.Filter(lastFrame(t, dev), "begin-rendering"), 4)

	require.NoError(t, r.Draw(camera(), scene.Toggles{DebugUI: true}))
	cmds := lastFrame(t, dev)
	passes := gputest.Filter(cmds, "begin-rendering")
	require.Len(t, passes, 5)
	ui := passes[4].Args.(gpu.RenderingInfo)
	assert.Equal(t, gpu.LoadOpLoad, ui.Colors[0].Load)

	draws := gputest.Filter(cmds, "draw")
	text := draws[len(draws)-1].Args.(gputest.DrawArgs)
	assert.Positive(t, text.Count)
	assert.Zero(t, text.Count%6)
	require.NoError(t, r.Shutdown())
}

func TestOptionsApplyOnNextFrame(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRenderer(t, dev, rendererConfig(config.RenderModeHybrid), &fakeAssets{}, "")
	opts := r.Options()
	opts.FXAA = false
	r.ApplyOptions(opts)
	assert.True(t, r.Options().FXAA)

	require.NoError(t, r.Draw(camera(), scene.Toggles{}))
	assert.False(t, r.Options().FXAA)
	pushes := gputest.Filter(lastFrame(t, dev), "push-constants")
	post := pushes[len(pushes)-1].Args.(gputest.PushConstantsArgs)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(post.Data))
	require.NoError(t, r.Shutdown())
}

func TestFenceTimeoutAborts(t *testing.T) {
	prev := core.SetAbortHandler(func(msg string) { panic(msg) })
	t.Cleanup(func() { core.SetAbortHandler(prev) })

	dev := gputest.NewDevice(false)
	r := newRenderer(t, dev, rendererConfig(config.RenderModeHybrid), &fakeAssets{}, "")
	dev.FenceTimeouts = 1
	assert.Panics(t, func() { _ = r.Draw(camera(), scene.Toggles{}) })
}

func TestShutdownReleasesEverything(t *testing.T) {
	dev := gputest.NewDevice(true)
	r := newRenderer(t, dev, rendererConfig(config.RenderModePathTrace), &fakeAssets{font: debugFont()}, "fonts/debug.fnt")
	require.NoError(t, r.Draw(camera(), scene.Toggles{DebugUI: true}))
	require.NoError(t, r.Shutdown())

	assert.Empty(t, dev.Buffers)
	assert.Empty(t, dev.Images)
	assert.Empty(t, dev.Pipelines)
	assert.Empty(t, dev.Accels)
	assert.Empty(t, dev.Samplers)
}
