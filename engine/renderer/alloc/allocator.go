// Package alloc creates GPU buffers and images and tracks their release.
package alloc

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type Lifetime int

const (
	// LifetimeManaged resources are released by the deletion queue at shutdown.
	LifetimeManaged Lifetime = iota
	// LifetimeManual resources are released by an explicit Destroy call.
	LifetimeManual
)

// Submitter records and submits a command buffer, blocking until the GPU
// has finished executing it.
type Submitter interface {
	Submit(record func(cb gpu.CommandBuffer) error) error
}

type BufferInfo struct {
	Size   uint64
	Usage  gpu.BufferUsage
	Memory gpu.MemoryUsage
	Name   string
}

type ImageInfo struct {
	Format      gpu.Format
	Extent      gpu.Extent3D
	Usage       gpu.ImageUsage
	MipLevels   uint32
	ArrayLayers uint32
	Cube        bool
	Name        string
}

type Buffer struct {
	Handle  gpu.Buffer
	Size    uint64
	Usage   gpu.BufferUsage
	Memory  gpu.MemoryUsage
	Mapped  []byte
	Address gpu.DeviceAddress
	Name    string

	lifetime Lifetime
	key      Key
}

// Write copies data into the mapped memory at offset.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.Mapped == nil {
		return fmt.Errorf("buffer %s is not host visible", b.Name)
	}
	if offset+uint64(len(data)) > uint64(len(b.Mapped)) {
		return fmt.Errorf("buffer %s: write of %d bytes at %d overflows size %d", b.Name, len(data), offset, b.Size)
	}
	copy(b.Mapped[offset:], data)
	return nil
}

// Info describes the whole buffer for a descriptor write.
func (b *Buffer) Info() gpu.BufferInfo {
	return gpu.BufferInfo{Buffer: b.Handle, Range: b.Size}
}

type Allocator struct {
	dev      gpu.Device
	deletion *DeletionQueue
	live     int
	log      *log.Logger
}

func NewAllocator(dev gpu.Device, deletion *DeletionQueue) *Allocator {
	return &Allocator{
		dev:      dev,
		deletion: deletion,
		log:      core.NewComponentLogger("alloc"),
	}
}

func (a *Allocator) Device() gpu.Device {
	return a.dev
}

func (a *Allocator) Deletion() *DeletionQueue {
	return a.deletion
}

// Live returns the number of buffers and images not yet destroyed.
func (a *Allocator) Live() int {
	return a.live
}

func debugName(name string) string {
	if name == "" {
		return uuid.NewString()
	}
	return name
}

func (a *Allocator) CreateBuffer(info BufferInfo, lifetime Lifetime) (*Buffer, error) {
	name := debugName(info.Name)
	handle, err := a.dev.CreateBuffer(gpu.BufferDesc{Size: info.Size, Usage: info.Usage, Memory: info.Memory, Name: name})
	if err != nil {
		err = fmt.Errorf("failed to create buffer %s (%d bytes): %w", name, info.Size, err)
		core.LogError(err.Error())
		return nil, err
	}
	b := &Buffer{
		Handle:   handle,
		Size:     info.Size,
		Usage:    info.Usage,
		Memory:   info.Memory,
		Name:     name,
		lifetime: lifetime,
	}
	if info.Memory.HostVisible() {
		if b.Mapped, err = a.dev.MapBuffer(handle); err != nil {
			a.dev.DestroyBuffer(handle)
			err = fmt.Errorf("failed to map buffer %s: %w", name, err)
			core.LogError(err.Error())
			return nil, err
		}
	}
	if info.Usage&gpu.BufferUsageDeviceAddress != 0 {
		if b.Address, err = a.dev.BufferAddress(handle); err != nil {
			a.dev.DestroyBuffer(handle)
			err = fmt.Errorf("failed to query address of buffer %s: %w", name, err)
			core.LogError(err.Error())
			return nil, err
		}
	}
	if lifetime == LifetimeManaged {
		b.key = a.deletion.Push("buffer", uint64(handle), func() { a.release(b) })
	}
	a.live++
	a.log.Debug("buffer created", "name", name, "size", info.Size, "lifetime", lifetime)
	return b, nil
}

func (a *Allocator) release(b *Buffer) {
	a.dev.DestroyBuffer(b.Handle)
	b.Handle = 0
	b.Mapped = nil
	a.live--
}

// DestroyBuffer releases b now. Managed buffers are also removed from the
// deletion queue.
func (a *Allocator) DestroyBuffer(b *Buffer) {
	if b == nil || b.Handle == 0 {
		return
	}
	if b.lifetime == LifetimeManaged {
		a.deletion.Cancel(b.key)
	}
	a.release(b)
}

// CreateImage creates the image and then its view. Both are released together.
func (a *Allocator) CreateImage(info ImageInfo, lifetime Lifetime) (*Image, error) {
	name := debugName(info.Name)
	mips := max(info.MipLevels, 1)
	layers := max(info.ArrayLayers, 1)
	if info.Cube {
		layers = 6
	}
	extent := info.Extent
	extent.Depth = max(extent.Depth, 1)

	handle, err := a.dev.CreateImage(gpu.ImageDesc{
		Format:      info.Format,
		Extent:      extent,
		MipLevels:   mips,
		ArrayLayers: layers,
		Usage:       info.Usage,
		Cube:        info.Cube,
		Name:        name,
	})
	if err != nil {
		err = fmt.Errorf("failed to create image %s: %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}

	aspect := gpu.AspectColor
	if info.Format.IsDepth() {
		aspect = gpu.AspectDepth
	}
	view, err := a.dev.CreateImageView(handle, gpu.ViewDesc{
		Format:     info.Format,
		Aspect:     aspect,
		MipCount:   mips,
		LayerCount: layers,
		Cube:       info.Cube,
	})
	if err != nil {
		a.dev.DestroyImage(handle)
		err = fmt.Errorf("failed to create view for image %s: %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}

	img := &Image{
		Handle:      handle,
		View:        view,
		Format:      info.Format,
		Aspect:      aspect,
		Extent:      extent,
		MipLevels:   mips,
		ArrayLayers: layers,
		Name:        name,
		layout:      gpu.LayoutUndefined,
		stage:       gpu.StageTopOfPipe,
		access:      gpu.AccessNone,
		owned:       true,
		lifetime:    lifetime,
	}
	if lifetime == LifetimeManaged {
		img.key = a.deletion.Push("image", uint64(handle), func() { a.releaseImage(img) })
	}
	a.live++
	a.log.Debug("image created", "name", name, "format", info.Format, "width", extent.Width, "height", extent.Height)
	return img, nil
}

func (a *Allocator) releaseImage(img *Image) {
	a.dev.DestroyImageView(img.View)
	a.dev.DestroyImage(img.Handle)
	img.View = 0
	img.Handle = 0
	a.live--
}

// DestroyImage releases an owned image and its view now.
func (a *Allocator) DestroyImage(img *Image) {
	if img == nil || !img.owned || img.Handle == 0 {
		return
	}
	if img.lifetime == LifetimeManaged {
		a.deletion.Cancel(img.key)
	}
	a.releaseImage(img)
}

// WrapImage tracks layout state for an image owned elsewhere, such as a
// swapchain image. The allocator never releases it. Frames wait on the
// acquire semaphore at the color attachment output stage, so that is where
// the first write is ordered from.
func (a *Allocator) WrapImage(handle gpu.Image, view gpu.ImageView, format gpu.Format, extent gpu.Extent2D, name string) *Image {
	img := &Image{
		Handle:      handle,
		View:        view,
		Format:      format,
		Aspect:      gpu.AspectColor,
		Extent:      extent.To3D(),
		MipLevels:   1,
		ArrayLayers: 1,
		Name:        name,
		acquire:     gpu.StageColorAttachmentOutput,
	}
	img.Discard()
	return img
}

// CreateSampler creates a sampler released by the deletion queue.
func (a *Allocator) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	if lim := a.dev.Limits().MaxSamplerAnisotropy; desc.MaxAnisotropy > lim {
		desc.MaxAnisotropy = lim
	}
	s, err := a.dev.CreateSampler(desc)
	if err != nil {
		err = fmt.Errorf("failed to create sampler: %w", err)
		core.LogError(err.Error())
		return 0, err
	}
	a.deletion.Push("sampler", uint64(s), func() { a.dev.DestroySampler(s) })
	return s, nil
}

// Shutdown waits for the device and drains the deletion queue.
func (a *Allocator) Shutdown() error {
	if err := a.dev.WaitIdle(); err != nil {
		err = fmt.Errorf("failed to wait for device idle: %w", err)
		core.LogError(err.Error())
		return err
	}
	a.deletion.Flush()
	if a.live != 0 {
		a.log.Warn("allocations still alive after shutdown", "count", a.live)
	}
	return nil
}
