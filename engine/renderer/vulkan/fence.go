package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var f vk.Fence
	if err := check(vk.CreateFence(d.handle, &info, nil, &f), "vkCreateFence"); err != nil {
		return 0, err
	}
	return gpu.Fence(d.fences.add(f)), nil
}

func (d *Device) DestroyFence(h gpu.Fence) {
	if f, ok := d.fences.remove(uint64(h)); ok {
		vk.DestroyFence(d.handle, f, nil)
	}
}

func (d *Device) fence(h gpu.Fence) vk.Fence {
	if f, ok := d.fences.get(uint64(h)); ok {
		return f
	}
	return vk.NullFence
}

func (d *Device) WaitFence(h gpu.Fence, timeout time.Duration) error {
	f, ok := d.fences.get(uint64(h))
	if !ok {
		return fmt.Errorf("unknown fence %d", h)
	}
	res := vk.WaitForFences(d.handle, 1, []vk.Fence{f}, vk.True, timeoutNanos(timeout))
	switch res {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("fence wait timed out after %s", timeout)
		return gpu.ErrTimeout
	case vk.ErrorDeviceLost:
		err := fmt.Errorf("fence wait: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	return check(res, "vkWaitForFences")
}

func (d *Device) ResetFence(h gpu.Fence) error {
	f, ok := d.fences.get(uint64(h))
	if !ok {
		return fmt.Errorf("unknown fence %d", h)
	}
	return check(vk.ResetFences(d.handle, 1, []vk.Fence{f}), "vkResetFences")
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	var s vk.Semaphore
	if err := check(vk.CreateSemaphore(d.handle, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &s), "vkCreateSemaphore"); err != nil {
		return 0, err
	}
	return gpu.Semaphore(d.semaphores.add(s)), nil
}

func (d *Device) DestroySemaphore(h gpu.Semaphore) {
	if s, ok := d.semaphores.remove(uint64(h)); ok {
		vk.DestroySemaphore(d.handle, s, nil)
	}
}

func (d *Device) semaphoreList(hs []gpu.Semaphore) []vk.Semaphore {
	out := make([]vk.Semaphore, 0, len(hs))
	for _, h := range hs {
		if s, ok := d.semaphores.get(uint64(h)); ok {
			out = append(out, s)
		}
	}
	return out
}

// Submit hands the command buffers to the graphics queue. A wait semaphore
// without a matching entry in WaitStages waits at all commands.
func (d *Device) Submit(info gpu.SubmitInfo) error {
	cbs := make([]vk.CommandBuffer, 0, len(info.CommandBuffers))
	for _, cb := range info.CommandBuffers {
		c, ok := cb.(*commandBuffer)
		if !ok {
			return fmt.Errorf("command buffer %T was not allocated by this device", cb)
		}
		cbs = append(cbs, c.handle)
	}
	wait := d.semaphoreList(info.Wait)
	stages := make([]vk.PipelineStageFlags, len(wait))
	for i := range stages {
		stage := gpu.StageAllCommands
		if i < len(info.WaitStages) {
			stage = info.WaitStages[i]
		}
		stages[i] = vkStages(stage, false)
	}
	signal := d.semaphoreList(info.Signal)

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(cbs)),
		PCommandBuffers:      cbs,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	fence := d.fence(info.Fence)
	return d.locks.SafeQueueCall(d.queues.graphics, func() error {
		return check(vk.QueueSubmit(d.graphicsQueue, 1, []vk.SubmitInfo{submit}, fence), "vkQueueSubmit")
	})
}
