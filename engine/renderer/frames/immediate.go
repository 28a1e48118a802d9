package frames

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Immediate records one-off work into a fresh command buffer and blocks until
// the GPU has executed it. Only for initialization and transient uploads.
type Immediate struct {
	dev     gpu.Device
	pool    gpu.CommandPool
	fence   gpu.Fence
	timeout time.Duration
}

func NewImmediate(dev gpu.Device, timeout time.Duration) (*Immediate, error) {
	pool, err := dev.CreateCommandPool(true)
	if err != nil {
		return nil, fmt.Errorf("failed to create immediate command pool: %w", err)
	}
	fence, err := dev.CreateFence(false)
	if err != nil {
		dev.DestroyCommandPool(pool)
		return nil, fmt.Errorf("failed to create immediate fence: %w", err)
	}
	return &Immediate{dev: dev, pool: pool, fence: fence, timeout: timeout}, nil
}

func (im *Immediate) Submit(record func(cb gpu.CommandBuffer) error) error {
	cb, err := im.dev.AllocateCommandBuffer(im.pool)
	if err != nil {
		return fmt.Errorf("failed to allocate immediate command buffer: %w", err)
	}
	defer im.dev.FreeCommandBuffer(im.pool, cb)

	if err := cb.Begin(true); err != nil {
		return err
	}
	if err := record(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	if err := im.dev.Submit(gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{cb}, Fence: im.fence}); err != nil {
		err = fmt.Errorf("failed to submit immediate work: %w", err)
		core.LogError(err.Error())
		return err
	}
	if err := im.dev.WaitFence(im.fence, im.timeout); err != nil {
		err = fmt.Errorf("immediate submit: %w", err)
		core.LogError(err.Error())
		return err
	}
	return im.dev.ResetFence(im.fence)
}

func (im *Immediate) Destroy() {
	im.dev.DestroyFence(im.fence)
	im.dev.DestroyCommandPool(im.pool)
}
