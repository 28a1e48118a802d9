package alloc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
)

// blockingSubmitter runs each recording on a fresh command buffer.
type blockingSubmitter struct {
	dev  *gputest.Device
	pool gpu.CommandPool
}

func newSubmitter(t *testing.T, dev *gputest.Device) *blockingSubmitter {
	pool, err := dev.CreateCommandPool(true)
	require.NoError(t, err)
	return &blockingSubmitter{dev: dev, pool: pool}
}

func (s *blockingSubmitter) Submit(record func(cb gpu.CommandBuffer) error) error {
	cb, err := s.dev.AllocateCommandBuffer(s.pool)
	if err != nil {
		return err
	}
	defer s.dev.FreeCommandBuffer(s.pool, cb)
	if err := cb.Begin(true); err != nil {
		return err
	}
	if err := record(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	return s.dev.Submit(gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{cb}})
}

func panicOnAbort(t *testing.T) {
	prev := core.SetAbortHandler(func(msg string) { panic(msg) })
	t.Cleanup(func() { core.SetAbortHandler(prev) })
}

func TestDeletionQueueReverseOrderOnce(t *testing.T) {
	q := NewDeletionQueue()
	var order []int
	for i := 0; i < 4; i++ {
		i := i
		q.Push("test", uint64(i), func() { order = append(order, i) })
	}
	assert.Equal(t, 4, q.Len())

	assert.Equal(t, 4, q.Flush())
	assert.Equal(t, []int{3, 2, 1, 0}, order)

	assert.Equal(t, 0, q.Flush())
	assert.Equal(t, []int{3, 2, 1, 0}, order)
}

func TestDeletionQueueCancelAndGenerations(t *testing.T) {
	q := NewDeletionQueue()
	var released []string
	a := q.Push("buffer", 7, func() { released = append(released, "first") })
	b := q.Push("buffer", 7, func() { released = append(released, "second") })
	assert.NotEqual(t, a, b)

	assert.True(t, q.Cancel(a))
	assert.False(t, q.Cancel(a))
	q.Flush()
	assert.Equal(t, []string{"second"}, released)
}

func TestDeletionQueuePushAfterFlushAborts(t *testing.T) {
	panicOnAbort(t)
	q := NewDeletionQueue()
	q.Flush()
	assert.Panics(t, func() { q.Push("buffer", 1, func() {}) })
}

func TestCreateImageViewAfterHandleReleasedTogether(t *testing.T) {
	dev := gputest.NewDevice(false)
	a := NewAllocator(dev, NewDeletionQueue())

	img, err := a.CreateImage(ImageInfo{
		Format: gpu.FormatR16G16B16A16Sfloat,
		Extent: gpu.Extent3D{Width: 64, Height: 32},
		Usage:  gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled,
		Name:   "gbuffer.normal",
	}, LifetimeManaged)
	require.NoError(t, err)
	assert.Equal(t, gpu.LayoutUndefined, img.Layout())
	assert.Equal(t, uint32(1), img.Extent.Depth)

	createImage := dev.IndexOf(fmt.Sprintf("create-image %d", img.Handle))
	createView := dev.IndexOf(fmt.Sprintf("create-view %d", img.View))
	require.NotEqual(t, -1, createImage)
	assert.Greater(t, createView, createImage)

	view, handle := img.View, img.Handle
	require.NoError(t, a.Shutdown())
	destroyView := dev.IndexOf(fmt.Sprintf("destroy-view %d", view))
	destroyImage := dev.IndexOf(fmt.Sprintf("destroy-image %d", handle))
	require.NotEqual(t, -1, destroyView)
	assert.Equal(t, destroyView+1, destroyImage)
	assert.Equal(t, 0, a.Live())
	assert.Equal(t, 1, dev.WaitIdleCalls)
}

func TestDepthImageAspect(t *testing.T) {
	dev := gputest.NewDevice(false)
	a := NewAllocator(dev, NewDeletionQueue())
	img, err := a.CreateImage(ImageInfo{
		Format: gpu.FormatD32Sfloat,
		Extent: gpu.Extent3D{Width: 8, Height: 8},
		Usage:  gpu.ImageUsageDepthAttachment,
	}, LifetimeManual)
	require.NoError(t, err)
	assert.Equal(t, gpu.AspectDepth, img.Aspect)
	assert.NotEmpty(t, img.Name)
	assert.Equal(t, float32(1), img.Attachment(gpu.LoadOpClear).ClearDepth)

	a.DestroyImage(img)
	assert.Equal(t, 0, a.Live())
	assert.Empty(t, dev.Images)
}

func TestTransitionTracksState(t *testing.T) {
	dev := gputest.NewDevice(false)
	a := NewAllocator(dev, NewDeletionQueue())
	img, err := a.CreateImage(ImageInfo{Format: gpu.FormatR8G8B8A8Unorm, Extent: gpu.Extent3D{Width: 4, Height: 4}}, LifetimeManual)
	require.NoError(t, err)

	pool, _ := dev.CreateCommandPool(false)
	cb, _ := dev.AllocateCommandBuffer(pool)
	require.NoError(t, cb.Begin(true))

	img.Transition(cb, gpu.LayoutUndefined, gpu.LayoutColorAttachment)
	img.Transition(cb, gpu.LayoutColorAttachment, gpu.LayoutShaderReadOnly)
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())

	cmds := cb.(*gputest.CommandBuffer).Commands
	require.Len(t, cmds, 2)
	second := cmds[1].Args.(gpu.Barriers).Images[0]
	assert.Equal(t, gpu.LayoutColorAttachment, second.OldLayout)
	assert.Equal(t, gpu.StageColorAttachmentOutput, second.SrcStage)
	assert.Equal(t, gpu.AccessColorAttachmentRead|gpu.AccessColorAttachmentWrite, second.SrcAccess)
	assert.Equal(t, gpu.AccessShaderRead, second.DstAccess)
	assert.NotZero(t, second.DstStage&gpu.StageFragmentShader)
}

func TestDiscardKeepsLastWriteStage(t *testing.T) {
	dev := gputest.NewDevice(false)
	a := NewAllocator(dev, NewDeletionQueue())
	depth, err := a.CreateImage(ImageInfo{Format: gpu.FormatD32Sfloat, Extent: gpu.Extent3D{Width: 4, Height: 4}}, LifetimeManual)
	require.NoError(t, err)

	pool, _ := dev.CreateCommandPool(false)
	cb, _ := dev.AllocateCommandBuffer(pool)
	require.NoError(t, cb.Begin(true))

	for i := 0; i < 2; i++ {
		depth.Discard()
		depth.Transition(cb, gpu.LayoutUndefined, gpu.LayoutDepthAttachment)
	}

	cmds := cb.(*gputest.CommandBuffer).Commands
	require.Len(t, cmds, 2)
	first := cmds[0].Args.(gpu.Barriers).Images[0]
	assert.Equal(t, gpu.StageTopOfPipe, first.SrcStage, "a new image has nothing to wait on")

	second := cmds[1].Args.(gpu.Barriers).Images[0]
	assert.Equal(t, gpu.LayoutUndefined, second.OldLayout)
	assert.NotZero(t, second.SrcStage&gpu.StageLateFragmentTests, "the clear waits for the previous depth writes")
	assert.Equal(t, gpu.AccessDepthStencilRead|gpu.AccessDepthStencilWrite, second.SrcAccess)
}

func TestWrappedImageRestartsAtAcquireStage(t *testing.T) {
	dev := gputest.NewDevice(false)
	a := NewAllocator(dev, NewDeletionQueue())
	img := a.WrapImage(7, 8, gpu.FormatB8G8R8A8Srgb, gpu.Extent2D{Width: 4, Height: 4}, "swapchain0")

	pool, _ := dev.CreateCommandPool(false)
	cb, _ := dev.AllocateCommandBuffer(pool)
	require.NoError(t, cb.Begin(true))

	for i := 0; i < 2; i++ {
		img.Discard()
		img.Transition(cb, gpu.LayoutUndefined, gpu.LayoutColorAttachment)
		img.Transition(cb, gpu.LayoutColorAttachment, gpu.LayoutPresentSrc)
	}

	cmds := cb.(*gputest.CommandBuffer).Commands
	require.Len(t, cmds, 4)
	for _, i := range []int{0, 2} {
		b := cmds[i].Args.(gpu.Barriers).Images[0]
		assert.Equal(t, gpu.StageColorAttachmentOutput, b.SrcStage, "barrier %d", i)
		assert.Equal(t, gpu.AccessNone, b.SrcAccess, "barrier %d", i)
	}
	assert.Zero(t, a.Live())
}

func TestTransitionFromWrongLayoutAborts(t *testing.T) {
	panicOnAbort(t)
	dev := gputest.NewDevice(false)
	a := NewAllocator(dev, NewDeletionQueue())
	img, err := a.CreateImage(ImageInfo{Format: gpu.FormatR8G8B8A8Unorm, Extent: gpu.Extent3D{Width: 4, Height: 4}}, LifetimeManual)
	require.NoError(t, err)

	pool, _ := dev.CreateCommandPool(false)
	cb, _ := dev.AllocateCommandBuffer(pool)
	assert.Panics(t, func() {
		img.Transition(cb, gpu.LayoutShaderReadOnly, gpu.LayoutColorAttachment)
	})
}

func TestBufferLifetimes(t *testing.T) {
	dev := gputest.NewDevice(false)
	q := NewDeletionQueue()
	a := NewAllocator(dev, q)

	managed, err := a.CreateBuffer(BufferInfo{Size: 128, Usage: gpu.BufferUsageUniform, Memory: gpu.MemoryCPUToGPU}, LifetimeManaged)
	require.NoError(t, err)
	manual, err := a.CreateBuffer(BufferInfo{Size: 64, Usage: gpu.BufferUsageTransferSrc, Memory: gpu.MemoryCPUToGPU}, LifetimeManual)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	require.NoError(t, managed.Write(120, []byte{1, 2, 3, 4}))
	assert.Error(t, managed.Write(126, []byte{1, 2, 3, 4}))
	assert.Equal(t, byte(4), dev.Buffers[managed.Handle].Data[123])

	a.DestroyBuffer(manual)
	assert.Equal(t, 1, a.Live())
	require.NoError(t, a.Shutdown())
	assert.Equal(t, 0, a.Live())
	assert.Empty(t, dev.Buffers)
}

func TestUploadBufferBarrierAndStaging(t *testing.T) {
	dev := gputest.NewDevice(true)
	a := NewAllocator(dev, NewDeletionQueue())
	sub := newSubmitter(t, dev)

	data := make([]byte, 96)
	buf, err := a.UploadBuffer(sub, data, BufferInfo{
		Usage: gpu.BufferUsageVertex | gpu.BufferUsageDeviceAddress,
		Name:  "mesh.vertices",
	}, gpu.StageVertexInput, gpu.AccessVertexAttributeRead)
	require.NoError(t, err)
	assert.Equal(t, uint64(96), buf.Size)
	assert.NotZero(t, buf.Address)
	assert.Nil(t, buf.Mapped)

	require.Len(t, dev.Submissions, 1)
	cmds := dev.Submissions[0].Commands
	assert.Equal(t, []string{"copy-buffer", "barrier"}, gputest.Names(cmds))
	barrier := cmds[1].Args.(gpu.Barriers).Buffers[0]
	assert.Equal(t, buf.Handle, barrier.Buffer)
	assert.Equal(t, gpu.StageVertexInput, barrier.DstStage)
	assert.Equal(t, gpu.AccessTransferWrite, barrier.SrcAccess)

	// Staging buffer is gone once the upload returns.
	assert.Len(t, dev.Buffers, 1)
}

func TestUploadImageEndsShaderReadable(t *testing.T) {
	dev := gputest.NewDevice(false)
	a := NewAllocator(dev, NewDeletionQueue())
	sub := newSubmitter(t, dev)

	img, err := a.UploadImage(sub, make([]byte, 2*2*4), ImageInfo{
		Format: gpu.FormatR8G8B8A8Srgb,
		Extent: gpu.Extent3D{Width: 2, Height: 2},
		Name:   "placeholder",
	})
	require.NoError(t, err)
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())
	assert.Equal(t, []string{"barrier", "copy-buffer-to-image", "barrier"}, gputest.Names(dev.Submissions[0].Commands))

	_, err = a.UploadImage(sub, make([]byte, 3), ImageInfo{Format: gpu.FormatR8G8B8A8Srgb, Extent: gpu.Extent3D{Width: 2, Height: 2}})
	assert.Error(t, err)
}
