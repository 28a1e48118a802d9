// Package system sequences the render passes of every frame: it owns the
// frame ring, the descriptor registry, the passes and the scene resources,
// and records the hybrid or the path traced frame.
package system

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/frames"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/scene"
)

var (
	ErrMissingFeatures = errors.New("missing required device features")
	ErrNoGeometry      = errors.New("scene has no geometry to trace")
)

const maxPushFrame = 1<<31 - 1

// Assets is what the renderer loads from disk.
type Assets interface {
	pipeline.ShaderSource
	LoadTexture(path string, kind loaders.TextureKind) *loaders.Pixels
	LoadFont(rel string) (*loaders.Font, error)
}

type Renderer struct {
	dev      gpu.Device
	assets   Assets
	cfg      config.RendererConfig
	fontPath string

	framesInFlight int
	pathTrace      bool
	rayTracing     bool

	allocator *alloc.Allocator
	immediate *frames.Immediate
	ring      *frames.Ring
	sets      *descriptors.Manager
	builder   *pipeline.Builder
	accel     *accel.Builder
	targets   *targets
	passes    passes
	overlay   *overlay

	scene   *scene.Scene
	objects []*scene.RenderObject

	textures       []*alloc.Image
	skybox         *alloc.Image
	linearSampler  gpu.Sampler
	nearestSampler gpu.Sampler
	uniforms       *alloc.Buffer
	uniformAlign   uint64
	uniformStride  uint64

	accumulator *Accumulator
	metrics     *core.Metrics
	clock       *core.Clock
	prevCamera  scene.CameraSnapshot
	hasPrev     bool

	optionsMu sync.Mutex
	options   config.Toggles
	pending   *config.Toggles

	log *log.Logger
}

// New prepares a renderer for dev. Nothing is created on the device until
// Initialize. An empty fontPath disables the debug overlay.
func New(dev gpu.Device, assets Assets, cfg config.RendererConfig, fontPath string) *Renderer {
	return &Renderer{
		dev:            dev,
		assets:         assets,
		cfg:            cfg,
		fontPath:       fontPath,
		framesInFlight: cfg.FramesInFlight,
		pathTrace:      cfg.Mode == config.RenderModePathTrace,
		rayTracing:     dev.Features().RayTracing,
		allocator:      alloc.NewAllocator(dev, alloc.NewDeletionQueue()),
		sets:           descriptors.NewManager(dev, cfg.FramesInFlight),
		accumulator:    NewAccumulator(cfg.MaxAccumulatedFrames),
		metrics:        core.NewMetrics(),
		clock:          core.NewClock(),
		options:        cfg.Toggles(),
		log:            core.NewComponentLogger("renderer"),
	}
}

func (r *Renderer) checkFeatures() error {
	f := r.dev.Features()
	var missing []string
	if !f.DescriptorIndexing {
		missing = append(missing, "descriptor indexing")
	}
	if !f.DynamicRendering {
		missing = append(missing, "dynamic rendering")
	}
	if r.pathTrace && !f.RayTracing {
		missing = append(missing, "ray tracing")
	}
	if len(missing) > 0 {
		err := fmt.Errorf("%w: %v", ErrMissingFeatures, missing)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// Initialize creates every GPU resource for s, in dependency order: targets,
// scene buffers and textures, samplers, uniforms, frame ring, acceleration
// structures, descriptors and finally the passes.
func (r *Renderer) Initialize(s *scene.Scene) error {
	if err := r.checkFeatures(); err != nil {
		return err
	}
	r.scene = s
	r.objects = s.SortedObjects()

	var err error
	if r.immediate, err = frames.NewImmediate(r.dev, r.cfg.FenceTimeout.Duration); err != nil {
		return err
	}
	if r.targets, err = createTargets(r.allocator, r.dev.Swapchain(), r.pathTrace); err != nil {
		return err
	}
	if err := r.uploadMeshes(s.Meshes); err != nil {
		return err
	}
	if err := r.uploadTextures(s); err != nil {
		return err
	}
	if r.fontPath != "" {
		if r.overlay, err = r.newOverlay(r.fontPath); err != nil {
			r.log.Warn("debug overlay disabled", "font", r.fontPath, "err", err)
			r.overlay = nil
		}
	}
	if err := r.createSamplers(); err != nil {
		return err
	}
	if err := r.createUniforms(); err != nil {
		return err
	}

	objectBuffer := uint64(max(len(r.objects), 1)) * scene.ObjectDataSize
	if r.ring, err = frames.NewRing(r.dev, r.allocator, r.framesInFlight, objectBuffer, r.cfg.FenceTimeout.Duration); err != nil {
		return err
	}

	if r.rayTracing && r.hasGeometry() {
		if err := r.buildAccelStructures(); err != nil {
			return err
		}
	} else if r.pathTrace {
		core.LogError(ErrNoGeometry.Error())
		return ErrNoGeometry
	}

	if err := r.registerDescriptors(); err != nil {
		return err
	}
	if err := r.sets.AllocateSets(); err != nil {
		return err
	}
	if _, err := r.sets.UpdateSets(); err != nil {
		return err
	}

	r.builder = pipeline.NewBuilder(r.dev, r.sets, r.assets, r.allocator, r.immediate)
	if err := r.buildPasses(); err != nil {
		return err
	}

	err = r.immediate.Submit(func(cb gpu.CommandBuffer) error {
		r.targets.prepare(cb, r.pathTrace)
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info("renderer initialized",
		"mode", r.cfg.Mode,
		"frames", r.framesInFlight,
		"objects", len(r.objects),
		"textures", len(r.textures),
		"ray_tracing", r.accel != nil)
	return nil
}

func (r *Renderer) hasGeometry() bool {
	for _, m := range r.scene.Meshes {
		if m.VertexBuffer != nil {
			return true
		}
	}
	return false
}

// ApplyOptions queues new runtime options. They take effect at the start of
// the next frame. Safe to call from another goroutine.
func (r *Renderer) ApplyOptions(t config.Toggles) {
	r.optionsMu.Lock()
	defer r.optionsMu.Unlock()
	r.pending = &t
}

func (r *Renderer) applyPending() {
	r.optionsMu.Lock()
	defer r.optionsMu.Unlock()
	if r.pending == nil {
		return
	}
	if r.pending.MaxBounces != r.options.MaxBounces {
		r.accumulator.Reset()
	}
	r.options = *r.pending
	r.pending = nil
	r.log.Info("options applied", "fxaa", r.options.FXAA, "shadows", r.options.Shadows, "bounces", r.options.MaxBounces)
}

func (r *Renderer) Options() config.Toggles {
	return r.options
}

// Draw records, submits and presents one frame. A fence timeout or a failed
// image acquire aborts the process.
func (r *Renderer) Draw(camera scene.CameraSnapshot, toggles scene.Toggles) error {
	r.applyPending()

	ctx, imageIndex, err := r.ring.Acquire()
	core.Must(err, "acquire frame")
	frame := ctx.Index
	cb := ctx.CommandBuffer

	if err := r.ring.Begin(ctx); err != nil {
		return err
	}
	if err := r.upload(ctx, camera); err != nil {
		return err
	}

	if r.pathTrace {
		r.recordPathTrace(cb, frame, camera, toggles)
	} else {
		r.recordHybrid(cb, frame)
	}

	target := r.targets.swapchain[imageIndex]
	r.recordPost(cb, frame, target)
	if toggles.DebugUI && r.overlay != nil {
		if err := r.drawOverlay(cb, frame, target); err != nil {
			return err
		}
	}
	target.Transition(cb, gpu.LayoutColorAttachment, gpu.LayoutPresentSrc)

	if err := r.ring.Submit(ctx); err != nil {
		return err
	}
	if err := r.ring.Present(ctx, imageIndex); err != nil {
		if !errors.Is(err, gpu.ErrOutOfDate) {
			return err
		}
		r.log.Warn("swapchain out of date", "frame", r.ring.FrameNumber())
	}

	r.prevCamera = camera
	r.hasPrev = true
	r.tick()
	return nil
}

func (r *Renderer) tick() {
	r.clock.Update()
	if elapsed := r.clock.Elapsed(); elapsed > 0 {
		r.metrics.Update(elapsed)
	}
	r.clock.Start()
}

// upload writes the camera, lighting and object data of this frame into the
// regions owned by its slot.
func (r *Renderer) upload(ctx *frames.Context, camera scene.CameraSnapshot) error {
	prev := camera
	if r.hasPrev {
		prev = r.prevCamera
	}
	block := scene.NewCameraUniform(camera, prev).Bytes()
	block = append(block, r.scene.Lighting().Bytes()...)
	offset := UniformOffset(ctx.Index, scene.CameraSize, scene.LightingSize, r.uniformAlign)
	if err := r.uniforms.Write(offset, block); err != nil {
		return err
	}
	if len(r.objects) == 0 {
		return nil
	}
	return ctx.ObjectBuffer.Write(0, scene.EncodeObjects(r.objects))
}

func (r *Renderer) setViewport(cb gpu.CommandBuffer) {
	cb.SetViewport(r.targets.viewport())
	cb.SetScissor(r.targets.scissor())
}

// drawObjects issues one indexed draw per render object. The object index is
// passed as the first instance so shaders can read the object buffer.
func (r *Renderer) drawObjects(cb gpu.CommandBuffer) {
	var bound *scene.Mesh
	for i, o := range r.objects {
		m := o.Mesh
		if m.VertexBuffer == nil {
			continue
		}
		if m != bound {
			cb.BindVertexBuffer(m.VertexBuffer.Handle, 0)
			cb.BindIndexBuffer(m.IndexBuffer.Handle, 0, gpu.IndexTypeUint32)
			bound = m
		}
		cb.DrawIndexed(uint32(len(m.Data.Indices)), 1, 0, 0, uint32(i))
	}
}

func (r *Renderer) recordHybrid(cb gpu.CommandBuffer, frame int) {
	t := r.targets
	gbuffer := []*alloc.Image{t.albedo, t.normal, t.position}

	t.intermediate.Transition(cb, gpu.LayoutShaderReadOnly, gpu.LayoutColorAttachment)
	colors := make([]gpu.Attachment, len(gbuffer))
	for i, img := range gbuffer {
		img.Transition(cb, gpu.LayoutShaderReadOnly, gpu.LayoutColorAttachment)
		colors[i] = img.Attachment(gpu.LoadOpClear)
	}
	t.depth.Discard()
	t.depth.Transition(cb, gpu.LayoutUndefined, gpu.LayoutDepthAttachment)
	depth := t.depth.Attachment(gpu.LoadOpClear)

	cb.BeginRendering(gpu.RenderingInfo{Extent: t.extent, Colors: colors, Depth: &depth})
	r.setViewport(cb)
	r.passes.gbuffer.Bind(cb, r.sets, frame)
	r.drawObjects(cb)
	cb.EndRendering()

	for _, img := range gbuffer {
		img.Transition(cb, gpu.LayoutColorAttachment, gpu.LayoutShaderReadOnly)
	}

	cb.BeginRendering(gpu.RenderingInfo{Extent: t.extent, Colors: []gpu.Attachment{t.intermediate.Attachment(gpu.LoadOpClear)}})
	r.setViewport(cb)
	r.passes.lighting.Bind(cb, r.sets, frame)
	r.passes.lighting.Push(cb, pushBytes(lightingPush{
		Shadows:    boolFlag(r.options.Shadows && r.accel != nil),
		PointCount: r.scene.Lighting().PointCount,
	}))
	cb.Draw(3, 1, 0, 0)
	cb.EndRendering()

	depth = t.depth.Attachment(gpu.LoadOpLoad)
	cb.BeginRendering(gpu.RenderingInfo{Extent: t.extent, Colors: []gpu.Attachment{t.intermediate.Attachment(gpu.LoadOpLoad)}, Depth: &depth})
	r.setViewport(cb)
	r.passes.skybox.Bind(cb, r.sets, frame)
	cb.Draw(36, 1, 0, 0)
	cb.EndRendering()

	t.intermediate.Transition(cb, gpu.LayoutColorAttachment, gpu.LayoutShaderReadOnly)
}

// recordPathTrace renders motion vectors, traces into the intermediate image
// and keeps copies of the result and of the positions for the next frame.
// Past the accumulation ceiling the previous image is presented unchanged.
func (r *Renderer) recordPathTrace(cb gpu.CommandBuffer, frame int, camera scene.CameraSnapshot, toggles scene.Toggles) {
	if !r.accumulator.Advance(camera, toggles.MotionVectors) {
		return
	}
	t := r.targets

	t.motion.Transition(cb, gpu.LayoutShaderReadOnly, gpu.LayoutColorAttachment)
	t.position.Transition(cb, gpu.LayoutGeneral, gpu.LayoutColorAttachment)
	t.depth.Discard()
	t.depth.Transition(cb, gpu.LayoutUndefined, gpu.LayoutDepthAttachment)
	depth := t.depth.Attachment(gpu.LoadOpClear)

	cb.BeginRendering(gpu.RenderingInfo{
		Extent: t.extent,
		Colors: []gpu.Attachment{t.motion.Attachment(gpu.LoadOpClear), t.position.Attachment(gpu.LoadOpClear)},
		Depth:  &depth,
	})
	r.setViewport(cb)
	r.passes.motion.Bind(cb, r.sets, frame)
	r.drawObjects(cb)
	cb.EndRendering()

	t.motion.Transition(cb, gpu.LayoutColorAttachment, gpu.LayoutGeneral)
	t.position.Transition(cb, gpu.LayoutColorAttachment, gpu.LayoutGeneral)
	t.intermediate.Transition(cb, gpu.LayoutShaderReadOnly, gpu.LayoutGeneral)

	var flags uint32
	if toggles.MotionVectors {
		flags |= rayFlagMotionVectors
	}
	if toggles.Defocus {
		flags |= rayFlagDefocus
	}
	if toggles.DebugUI {
		flags |= rayFlagDebug
	}
	trace := r.passes.trace
	trace.Bind(cb, r.sets, frame)
	trace.Push(cb, RayPushConstants{
		Frame:      int32(min(r.accumulator.Frame(), maxPushFrame)),
		Flags:      flags,
		MaxBounces: r.options.MaxBounces,
	}.Bytes())
	trace.TraceRays(cb, t.extent)

	r.copyForNextFrame(cb, t.intermediate, t.previous, gpu.LayoutShaderReadOnly)
	r.copyForNextFrame(cb, t.position, t.prevPosition, gpu.LayoutGeneral)
	t.motion.Transition(cb, gpu.LayoutGeneral, gpu.LayoutShaderReadOnly)
}

// copyForNextFrame copies src, in the general layout, into dst and leaves
// src in after.
func (r *Renderer) copyForNextFrame(cb gpu.CommandBuffer, src, dst *alloc.Image, after gpu.ImageLayout) {
	src.Transition(cb, gpu.LayoutGeneral, gpu.LayoutTransferSrc)
	dst.Transition(cb, gpu.LayoutGeneral, gpu.LayoutTransferDst)
	cb.CopyImage(src.Handle, gpu.LayoutTransferSrc, dst.Handle, gpu.LayoutTransferDst, gpu.AspectColor, src.Extent)
	dst.Transition(cb, gpu.LayoutTransferDst, gpu.LayoutGeneral)
	src.Transition(cb, gpu.LayoutTransferSrc, after)
}

// recordPost resolves the intermediate image into the swapchain image with
// FXAA or the denoiser, leaving target in the color attachment layout.
func (r *Renderer) recordPost(cb gpu.CommandBuffer, frame int, target *alloc.Image) {
	target.Discard()
	target.Transition(cb, gpu.LayoutUndefined, gpu.LayoutColorAttachment)

	cb.BeginRendering(gpu.RenderingInfo{Extent: r.targets.extent, Colors: []gpu.Attachment{target.Attachment(gpu.LoadOpClear)}})
	r.setViewport(cb)
	post := r.passes.post
	post.Bind(cb, r.sets, frame)
	post.Push(cb, pushBytes(postPush{
		FXAA:        boolFlag(r.options.FXAA && !r.pathTrace),
		Accumulated: int32(min(r.accumulator.Frame()+1, maxPushFrame)),
		InvWidth:    1 / float32(r.targets.extent.Width),
		InvHeight:   1 / float32(r.targets.extent.Height),
	}))
	cb.Draw(3, 1, 0, 0)
	cb.EndRendering()
}

func (r *Renderer) Accumulator() *Accumulator {
	return r.accumulator
}

func (r *Renderer) Metrics() *core.Metrics {
	return r.metrics
}

func (r *Renderer) FrameNumber() uint64 {
	if r.ring == nil {
		return 0
	}
	return r.ring.FrameNumber()
}

// Shutdown waits for the device, then releases everything Initialize
// created. It is safe after a partial Initialize.
func (r *Renderer) Shutdown() error {
	if err := r.dev.WaitIdle(); err != nil {
		err = fmt.Errorf("failed to wait for device idle: %w", err)
		core.LogError(err.Error())
		return err
	}
	if r.ring != nil {
		r.ring.Destroy()
	}
	if r.accel != nil {
		r.accel.Destroy()
	}
	if r.builder != nil {
		r.builder.Destroy()
	}
	r.sets.Destroy()
	if r.immediate != nil {
		r.immediate.Destroy()
	}
	if err := r.allocator.Shutdown(); err != nil {
		return err
	}
	r.log.Info("renderer shut down", "frames", r.FrameNumber())
	return nil
}
