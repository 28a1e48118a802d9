// Package frames owns the per-frame-in-flight contexts and the blocking
// immediate submit path used outside the frame loop.
package frames

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

var (
	ErrFenceTimeout = errors.New("timed out waiting for frame fence")
	ErrAcquire      = errors.New("failed to acquire swapchain image")
)

// Context is everything one frame-in-flight slot owns.
type Context struct {
	Index            int
	CommandPool      gpu.CommandPool
	CommandBuffer    gpu.CommandBuffer
	PresentSemaphore gpu.Semaphore
	RenderSemaphore  gpu.Semaphore
	Fence            gpu.Fence
	ObjectBuffer     *alloc.Buffer
}

// Ring cycles through N frame contexts. Slot i is reused only after the
// fence from its previous submission has been waited on.
type Ring struct {
	dev         gpu.Device
	allocator   *alloc.Allocator
	frames      []*Context
	frameNumber uint64
	timeout     time.Duration
	log         *log.Logger
}

// NewRing creates n contexts, each with a host-visible object storage
// buffer of objectBufferSize bytes. Fences start signaled so the first wait
// on every slot returns immediately.
func NewRing(dev gpu.Device, allocator *alloc.Allocator, n int, objectBufferSize uint64, timeout time.Duration) (*Ring, error) {
	r := &Ring{
		dev:       dev,
		allocator: allocator,
		timeout:   timeout,
		log:       core.NewComponentLogger("frames"),
	}
	for i := 0; i < n; i++ {
		ctx, err := r.newContext(i, objectBufferSize)
		if err != nil {
			r.Destroy()
			return nil, err
		}
		r.frames = append(r.frames, ctx)
	}
	r.log.Info("frame ring created", "frames", n)
	return r, nil
}

// newContext releases whatever it created before a failing call.
func (r *Ring) newContext(index int, objectBufferSize uint64) (*Context, error) {
	ctx := &Context{Index: index}
	fail := func(err error) (*Context, error) {
		r.release(ctx)
		core.LogError(err.Error())
		return nil, err
	}

	var err error
	if ctx.CommandPool, err = r.dev.CreateCommandPool(false); err != nil {
		return fail(fmt.Errorf("frame %d: failed to create command pool: %w", index, err))
	}
	if ctx.CommandBuffer, err = r.dev.AllocateCommandBuffer(ctx.CommandPool); err != nil {
		return fail(fmt.Errorf("frame %d: failed to allocate command buffer: %w", index, err))
	}
	if ctx.PresentSemaphore, err = r.dev.CreateSemaphore(); err != nil {
		return fail(fmt.Errorf("frame %d: failed to create present semaphore: %w", index, err))
	}
	if ctx.RenderSemaphore, err = r.dev.CreateSemaphore(); err != nil {
		return fail(fmt.Errorf("frame %d: failed to create render semaphore: %w", index, err))
	}
	if ctx.Fence, err = r.dev.CreateFence(true); err != nil {
		return fail(fmt.Errorf("frame %d: failed to create fence: %w", index, err))
	}
	if objectBufferSize > 0 {
		ctx.ObjectBuffer, err = r.allocator.CreateBuffer(alloc.BufferInfo{
			Size:   objectBufferSize,
			Usage:  gpu.BufferUsageStorage,
			Memory: gpu.MemoryCPUToGPU,
			Name:   fmt.Sprintf("frame%d.objects", index),
		}, alloc.LifetimeManual)
		if err != nil {
			return fail(err)
		}
	}
	return ctx, nil
}

func (r *Ring) Len() int {
	return len(r.frames)
}

// FrameNumber counts presented frames.
func (r *Ring) FrameNumber() uint64 {
	return r.frameNumber
}

// Index is the slot of the frame being recorded.
func (r *Ring) Index() int {
	return int(r.frameNumber % uint64(len(r.frames)))
}

func (r *Ring) Current() *Context {
	return r.frames[r.Index()]
}

func (r *Ring) Frame(i int) *Context {
	return r.frames[i]
}

// Acquire waits for the current slot's previous submission, resets its
// fence, acquires the next swapchain image and resets the command buffer.
func (r *Ring) Acquire() (*Context, uint32, error) {
	ctx := r.Current()
	if err := r.dev.WaitFence(ctx.Fence, r.timeout); err != nil {
		if errors.Is(err, gpu.ErrTimeout) {
			err = fmt.Errorf("frame %d slot %d after %s: %w", r.frameNumber, ctx.Index, r.timeout, ErrFenceTimeout)
		}
		core.LogError(err.Error())
		return nil, 0, err
	}
	if err := r.dev.ResetFence(ctx.Fence); err != nil {
		return nil, 0, fmt.Errorf("frame %d: failed to reset fence: %w", r.frameNumber, err)
	}
	imageIndex, err := r.dev.AcquireNextImage(ctx.PresentSemaphore, r.timeout)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrAcquire, err)
		core.LogError(err.Error())
		return nil, 0, err
	}
	if err := ctx.CommandBuffer.Reset(); err != nil {
		return nil, 0, fmt.Errorf("frame %d: failed to reset command buffer: %w", r.frameNumber, err)
	}
	return ctx, imageIndex, nil
}

func (r *Ring) Begin(ctx *Context) error {
	return ctx.CommandBuffer.Begin(true)
}

// Submit ends recording and submits: the GPU waits for the present
// semaphore at color output, signals the render semaphore and the fence.
func (r *Ring) Submit(ctx *Context) error {
	if err := ctx.CommandBuffer.End(); err != nil {
		return fmt.Errorf("frame %d: failed to end command buffer: %w", r.frameNumber, err)
	}
	err := r.dev.Submit(gpu.SubmitInfo{
		CommandBuffers: []gpu.CommandBuffer{ctx.CommandBuffer},
		Wait:           []gpu.Semaphore{ctx.PresentSemaphore},
		WaitStages:     []gpu.PipelineStage{gpu.StageColorAttachmentOutput},
		Signal:         []gpu.Semaphore{ctx.RenderSemaphore},
		Fence:          ctx.Fence,
	})
	if err != nil {
		err = fmt.Errorf("frame %d: failed to submit: %w", r.frameNumber, err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// Present queues imageIndex for presentation after the render semaphore and
// advances the frame counter.
func (r *Ring) Present(ctx *Context, imageIndex uint32) error {
	err := r.dev.Present(ctx.RenderSemaphore, imageIndex)
	r.frameNumber++
	if err != nil && !errors.Is(err, gpu.ErrOutOfDate) {
		return fmt.Errorf("frame %d: failed to present: %w", r.frameNumber-1, err)
	}
	return err
}

// Destroy releases every context. The device must be idle.
func (r *Ring) Destroy() {
	for _, ctx := range r.frames {
		r.release(ctx)
	}
	r.frames = nil
}

// release destroys the objects of ctx that were created.
func (r *Ring) release(ctx *Context) {
	if ctx.ObjectBuffer != nil {
		r.allocator.DestroyBuffer(ctx.ObjectBuffer)
	}
	if ctx.Fence != 0 {
		r.dev.DestroyFence(ctx.Fence)
	}
	if ctx.RenderSemaphore != 0 {
		r.dev.DestroySemaphore(ctx.RenderSemaphore)
	}
	if ctx.PresentSemaphore != 0 {
		r.dev.DestroySemaphore(ctx.PresentSemaphore)
	}
	if ctx.CommandPool != 0 {
		r.dev.DestroyCommandPool(ctx.CommandPool)
	}
}
