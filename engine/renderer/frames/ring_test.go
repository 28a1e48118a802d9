package frames

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
)

func newRing(t *testing.T, dev *gputest.Device, n int) *Ring {
	a := alloc.NewAllocator(dev, alloc.NewDeletionQueue())
	r, err := NewRing(dev, a, n, 1024, time.Second)
	require.NoError(t, err)
	return r
}

func runFrame(t *testing.T, r *Ring) *Context {
	ctx, image, err := r.Acquire()
	require.NoError(t, err)
	require.NoError(t, r.Begin(ctx))
	ctx.CommandBuffer.Draw(3, 1, 0, 0)
	require.NoError(t, r.Submit(ctx))
	require.NoError(t, r.Present(ctx, image))
	return ctx
}

func TestRingRoundRobin(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRing(t, dev, 3)

	type pair struct {
		pool gpu.CommandPool
		cb   gpu.CommandBuffer
	}
	seen := map[pair]bool{}
	var order []int
	for f := 0; f < 10; f++ {
		ctx := runFrame(t, r)
		order = append(order, ctx.Index)
		seen[pair{ctx.CommandPool, ctx.CommandBuffer}] = true
	}

	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0}, order)
	assert.Len(t, seen, 3)
	assert.Equal(t, uint64(10), r.FrameNumber())
	require.Len(t, dev.Submissions, 10)
	for f, s := range dev.Submissions {
		assert.Same(t, r.Frame(f%3).CommandBuffer, s.CommandBuffer)
	}
	assert.Equal(t, []uint32{0, 1, 2, 0, 1, 2, 0, 1, 2, 0}, dev.Presented)
}

func TestAcquireWaitsThenResetsThenAcquires(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRing(t, dev, 2)

	ctx := runFrame(t, r)
	runFrame(t, r)
	start := len(dev.Log)
	again, _, err := r.Acquire()
	require.NoError(t, err)
	assert.Same(t, ctx, again)

	log := dev.Log[start:]
	require.GreaterOrEqual(t, len(log), 3)
	assert.Equal(t, fmt.Sprintf("wait-fence %d", ctx.Fence), log[0])
	assert.Equal(t, fmt.Sprintf("reset-fence %d", ctx.Fence), log[1])
	assert.Contains(t, log[2], "acquire")
	assert.Equal(t, 2, ctx.CommandBuffer.(*gputest.CommandBuffer).Resets)
}

func TestSubmitSynchronisation(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRing(t, dev, 3)
	ctx := runFrame(t, r)

	info := dev.Submissions[0].Info
	assert.Equal(t, []gpu.Semaphore{ctx.PresentSemaphore}, info.Wait)
	assert.Equal(t, []gpu.PipelineStage{gpu.StageColorAttachmentOutput}, info.WaitStages)
	assert.Equal(t, []gpu.Semaphore{ctx.RenderSemaphore}, info.Signal)
	assert.Equal(t, ctx.Fence, info.Fence)
}

func TestFenceTimeoutIsReported(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRing(t, dev, 3)
	dev.FenceTimeouts = 1

	_, _, err := r.Acquire()
	assert.ErrorIs(t, err, ErrFenceTimeout)
}

func TestAcquireFailure(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRing(t, dev, 3)
	dev.AcquireErr = errors.New("surface lost")

	_, _, err := r.Acquire()
	assert.ErrorIs(t, err, ErrAcquire)
}

func TestObjectBuffersPerSlot(t *testing.T) {
	dev := gputest.NewDevice(false)
	r := newRing(t, dev, 3)
	buffers := map[gpu.Buffer]bool{}
	for i := 0; i < r.Len(); i++ {
		b := r.Frame(i).ObjectBuffer
		require.NotNil(t, b)
		assert.NotNil(t, b.Mapped)
		buffers[b.Handle] = true
	}
	assert.Len(t, buffers, 3)

	r.Destroy()
	assert.Empty(t, dev.Buffers)
	assert.Empty(t, dev.Fences)
}

func TestImmediateSubmitBlocksOnFreshBuffer(t *testing.T) {
	dev := gputest.NewDevice(false)
	im, err := NewImmediate(dev, time.Second)
	require.NoError(t, err)

	var first, second gpu.CommandBuffer
	require.NoError(t, im.Submit(func(cb gpu.CommandBuffer) error {
		first = cb
		cb.Draw(1, 1, 0, 0)
		return nil
	}))
	require.NoError(t, im.Submit(func(cb gpu.CommandBuffer) error {
		second = cb
		return nil
	}))

	assert.NotSame(t, first, second)
	assert.True(t, first.(*gputest.CommandBuffer).Freed)
	require.Len(t, dev.Submissions, 2)

	failing := errors.New("record failed")
	assert.ErrorIs(t, im.Submit(func(gpu.CommandBuffer) error { return failing }), failing)
	assert.Len(t, dev.Submissions, 2)
}

func TestFailedContextReleasesPartialObjects(t *testing.T) {
	// Each case fails inside the second slot, after the first was created.
	cases := []struct {
		call string
		nth  int
	}{
		{"allocate-command-buffer", 2},
		{"create-semaphore", 4},
		{"create-fence", 2},
		{"create-buffer frame1.objects", 1},
	}
	for _, c := range cases {
		dev := gputest.NewDevice(false)
		seen := 0
		dev.Fail = func(call string) error {
			if call != c.call {
				return nil
			}
			if seen++; seen == c.nth {
				return errors.New("out of device memory")
			}
			return nil
		}

		a := alloc.NewAllocator(dev, alloc.NewDeletionQueue())
		r, err := NewRing(dev, a, 3, 1024, time.Second)
		require.Error(t, err, c.call)
		assert.Nil(t, r, c.call)

		assert.Empty(t, dev.CommandPools, c.call)
		assert.Empty(t, dev.Semaphores, c.call)
		assert.Empty(t, dev.Fences, c.call)
		assert.Empty(t, dev.Buffers, c.call)
		assert.Zero(t, a.Live(), c.call)
	}
}
