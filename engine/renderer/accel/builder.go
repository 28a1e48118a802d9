// Package accel builds bottom-level and top-level acceleration structures.
package accel

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

var (
	ErrNoTopLevel         = errors.New("top-level acceleration structure has not been built")
	ErrUpdateNotAllowed   = errors.New("top-level acceleration structure was built without update support")
	ErrInstanceCount      = errors.New("top-level update must keep the instance count")
	ErrUnknownBottomLevel = errors.New("instance references an unknown bottom-level structure")
	ErrEmptyMesh          = errors.New("mesh has no triangles")
)

// DefaultBatchBudget bounds the structure bytes built per submission.
const DefaultBatchBudget uint64 = 236 << 20

// MeshInput describes the triangle geometry of one mesh. Positions are three
// floats at the start of each vertex; indices are uint32.
type MeshInput struct {
	Name          string
	VertexAddress gpu.DeviceAddress
	VertexStride  uint64
	VertexCount   uint32
	IndexAddress  gpu.DeviceAddress
	IndexCount    uint32
	Opaque        bool
}

func (m MeshInput) geometry() gpu.TrianglesGeometry {
	return gpu.TrianglesGeometry{
		VertexFormat:   gpu.FormatR32G32B32Sfloat,
		VertexAddress:  m.VertexAddress,
		VertexStride:   m.VertexStride,
		MaxVertex:      m.VertexCount - 1,
		IndexType:      gpu.IndexTypeUint32,
		IndexAddress:   m.IndexAddress,
		PrimitiveCount: m.IndexCount / 3,
		Opaque:         m.Opaque,
	}
}

// Structure is an acceleration structure and its backing buffer.
type Structure struct {
	Handle  gpu.AccelStructure
	Buffer  *alloc.Buffer
	Address gpu.DeviceAddress
	Size    uint64
}

type Builder struct {
	dev       gpu.Device
	allocator *alloc.Allocator
	sub       alloc.Submitter
	budget    uint64

	blas []*Structure

	tlas          *Structure
	tlasFlags     gpu.BuildFlags
	tlasScratch   *alloc.Buffer
	instances     *alloc.Buffer
	instanceCount int

	log *log.Logger
}

// NewBuilder fails with gpu.ErrRayTracingUnsupported on devices without
// acceleration structure support.
func NewBuilder(dev gpu.Device, allocator *alloc.Allocator, sub alloc.Submitter, budget uint64) (*Builder, error) {
	if !dev.Features().RayTracing {
		core.LogError(gpu.ErrRayTracingUnsupported.Error())
		return nil, gpu.ErrRayTracingUnsupported
	}
	if budget == 0 {
		budget = DefaultBatchBudget
	}
	return &Builder{
		dev:       dev,
		allocator: allocator,
		sub:       sub,
		budget:    budget,
		log:       core.NewComponentLogger("accel"),
	}, nil
}

func (b *Builder) BlasCount() int {
	return len(b.blas)
}

func (b *Builder) Blas(i int) *Structure {
	return b.blas[i]
}

// Tlas returns nil until BuildTlas has succeeded.
func (b *Builder) Tlas() *Structure {
	return b.tlas
}

func (b *Builder) createStructure(typ gpu.AccelStructureType, size uint64, name string) (*Structure, error) {
	buf, err := b.allocator.CreateBuffer(alloc.BufferInfo{
		Size:   size,
		Usage:  gpu.BufferUsageAccelStructureStorage | gpu.BufferUsageDeviceAddress,
		Memory: gpu.MemoryGPUOnly,
		Name:   name,
	}, alloc.LifetimeManual)
	if err != nil {
		return nil, err
	}
	handle, err := b.dev.CreateAccelStructure(typ, buf.Handle, 0, size)
	if err != nil {
		b.allocator.DestroyBuffer(buf)
		err = fmt.Errorf("failed to create acceleration structure %s: %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}
	addr, err := b.dev.AccelStructureAddress(handle)
	if err != nil {
		b.dev.DestroyAccelStructure(handle)
		b.allocator.DestroyBuffer(buf)
		return nil, err
	}
	return &Structure{Handle: handle, Buffer: buf, Address: addr, Size: size}, nil
}

func (b *Builder) destroyStructure(s *Structure) {
	if s == nil {
		return
	}
	b.dev.DestroyAccelStructure(s.Handle)
	b.allocator.DestroyBuffer(s.Buffer)
}

func (b *Builder) scratch(size uint64, name string) (*alloc.Buffer, error) {
	return b.allocator.CreateBuffer(alloc.BufferInfo{
		Size:   math.AlignUp(size, b.dev.Limits().MinAccelScratchOffsetAlignment),
		Usage:  gpu.BufferUsageStorage | gpu.BufferUsageDeviceAddress,
		Memory: gpu.MemoryGPUOnly,
		Name:   name,
	}, alloc.LifetimeManual)
}

// accelBarrier orders consecutive builds sharing the scratch buffer.
var accelBarrier = gpu.Barriers{Memory: []gpu.MemoryBarrier{{
	SrcStage:  gpu.StageAccelStructureBuild,
	DstStage:  gpu.StageAccelStructureBuild,
	SrcAccess: gpu.AccessAccelStructureWrite,
	DstAccess: gpu.AccessAccelStructureRead,
}}}

// BuildBlas builds one bottom-level structure per input, appended in input
// order. Every input needs at least one triangle. Builds run serially over one scratch buffer sized for the largest
// build, in batches bounded by the builder's budget. With
// BuildAllowCompaction every structure is copied into a compacted one and
// the original is released once the copy has completed.
func (b *Builder) BuildBlas(inputs []MeshInput, flags gpu.BuildFlags) error {
	if len(inputs) == 0 {
		return nil
	}

	for _, in := range inputs {
		if in.VertexCount == 0 || in.IndexCount < 3 {
			err := fmt.Errorf("%w: %s (%d vertices, %d indices)", ErrEmptyMesh, in.Name, in.VertexCount, in.IndexCount)
			core.LogError(err.Error())
			return err
		}
	}

	infos := make([]gpu.AccelBuildInfo, len(inputs))
	sizes := make([]uint64, len(inputs))
	var total, maxScratch uint64
	for i, in := range inputs {
		infos[i] = gpu.AccelBuildInfo{
			Type:      gpu.AccelBottomLevel,
			Flags:     flags,
			Triangles: []gpu.TrianglesGeometry{in.geometry()},
		}
		s, err := b.dev.AccelBuildSizes(infos[i])
		if err != nil {
			err = fmt.Errorf("failed to get build sizes for %s: %w", in.Name, err)
			core.LogError(err.Error())
			return err
		}
		sizes[i] = s.StructureSize
		total += s.StructureSize
		maxScratch = max(maxScratch, s.BuildScratchSize)
	}

	scratch, err := b.scratch(maxScratch, "blas.scratch")
	if err != nil {
		return err
	}
	defer b.allocator.DestroyBuffer(scratch)

	compact := flags&gpu.BuildAllowCompaction != 0
	var queries gpu.QueryPool
	if compact {
		if queries, err = b.dev.CreateQueryPool(uint32(len(inputs))); err != nil {
			err = fmt.Errorf("failed to create compaction query pool: %w", err)
			core.LogError(err.Error())
			return err
		}
		defer b.dev.DestroyQueryPool(queries)
	}

	built := make([]*Structure, len(inputs))
	fail := func(err error) error {
		for _, s := range built {
			b.destroyStructure(s)
		}
		return err
	}

	var compacted uint64
	for _, batch := range PlanBatches(sizes, b.budget) {
		for _, i := range batch {
			s, err := b.createStructure(gpu.AccelBottomLevel, sizes[i], inputs[i].Name+".blas")
			if err != nil {
				return fail(err)
			}
			built[i] = s
			infos[i].Dst = s.Handle
			infos[i].ScratchAddress = scratch.Address
		}

		first := uint32(batch[0])
		err := b.sub.Submit(func(cb gpu.CommandBuffer) error {
			if compact {
				cb.ResetQueryPool(queries, first, uint32(len(batch)))
			}
			handles := make([]gpu.AccelStructure, 0, len(batch))
			for _, i := range batch {
				cb.BuildAccelStructure(infos[i])
				cb.PipelineBarrier(accelBarrier)
				handles = append(handles, built[i].Handle)
			}
			if compact {
				cb.WriteAccelStructureProperties(handles, queries, first)
			}
			return nil
		})
		if err != nil {
			return fail(fmt.Errorf("failed to build bottom-level batch at %d: %w", first, err))
		}

		if compact {
			saved, err := b.compact(batch, built, queries, inputs)
			if err != nil {
				return fail(err)
			}
			compacted += saved
		}
		b.log.Debug("blas batch built", "first", first, "count", len(batch))
	}

	b.blas = append(b.blas, built...)
	b.log.Info("bottom-level structures built", "count", len(inputs), "bytes", total, "scratch", maxScratch, "compacted", compacted)
	return nil
}

// compact copies each structure of batch into one of its queried compacted
// size. The originals are released after the copy submission returns.
func (b *Builder) compact(batch []int, built []*Structure, queries gpu.QueryPool, inputs []MeshInput) (uint64, error) {
	first := uint32(batch[0])
	results, err := b.dev.QueryResults(queries, first, uint32(len(batch)))
	if err != nil {
		err = fmt.Errorf("failed to read compacted sizes: %w", err)
		core.LogError(err.Error())
		return 0, err
	}

	originals := make([]*Structure, len(batch))
	for n, i := range batch {
		size := results[n]
		if size == 0 || size > built[i].Size {
			size = built[i].Size
		}
		dst, err := b.createStructure(gpu.AccelBottomLevel, size, inputs[i].Name+".blas.compact")
		if err != nil {
			for _, o := range originals[:n] {
				b.destroyStructure(o)
			}
			return 0, err
		}
		originals[n] = built[i]
		built[i] = dst
	}

	err = b.sub.Submit(func(cb gpu.CommandBuffer) error {
		for n, i := range batch {
			cb.CopyAccelStructure(originals[n].Handle, built[i].Handle, true)
		}
		return nil
	})
	if err != nil {
		for _, o := range originals {
			b.destroyStructure(o)
		}
		return 0, fmt.Errorf("failed to compact bottom-level batch at %d: %w", first, err)
	}

	var saved uint64
	for n, i := range batch {
		saved += originals[n].Size - built[i].Size
		b.destroyStructure(originals[n])
	}
	return saved, nil
}

// BuildTlas uploads the instance records and builds the top-level
// structure. With update set the existing structure is refit in place,
// which needs a prior build with BuildAllowUpdate and the same instance
// count.
func (b *Builder) BuildTlas(instances []Instance, update bool, flags gpu.BuildFlags) error {
	if update {
		switch {
		case b.tlas == nil:
			core.LogError(ErrNoTopLevel.Error())
			return ErrNoTopLevel
		case b.tlasFlags&gpu.BuildAllowUpdate == 0:
			core.LogError(ErrUpdateNotAllowed.Error())
			return ErrUpdateNotAllowed
		case len(instances) != b.instanceCount:
			err := fmt.Errorf("%w: %d != %d", ErrInstanceCount, len(instances), b.instanceCount)
			core.LogError(err.Error())
			return err
		}
		flags = b.tlasFlags
	}

	data := make([]byte, max(len(instances), 1)*gpu.InstanceSize)
	for i, in := range instances {
		if in.Blas < 0 || in.Blas >= len(b.blas) {
			err := fmt.Errorf("instance %d: %w (%d)", i, ErrUnknownBottomLevel, in.Blas)
			core.LogError(err.Error())
			return err
		}
		in.encode(data[i*gpu.InstanceSize:], b.blas[in.Blas].Address)
	}

	// A failed first build leaves no structure behind, so Tlas stays nil.
	fail := func(err error) error {
		if !update {
			b.releaseTopLevel()
		}
		return err
	}

	if !update {
		b.releaseTopLevel()
		var err error
		if b.instances, err = b.allocator.CreateBuffer(alloc.BufferInfo{
			Size:   uint64(len(data)),
			Usage:  gpu.BufferUsageAccelStructureInput | gpu.BufferUsageDeviceAddress | gpu.BufferUsageTransferDst,
			Memory: gpu.MemoryGPUOnly,
			Name:   "tlas.instances",
		}, alloc.LifetimeManual); err != nil {
			return fail(err)
		}
	}

	info := gpu.AccelBuildInfo{
		Type:      gpu.AccelTopLevel,
		Flags:     flags,
		Update:    update,
		Instances: &gpu.InstancesGeometry{Address: b.instances.Address, Count: uint32(len(instances))},
	}

	if !update {
		sizes, err := b.dev.AccelBuildSizes(info)
		if err != nil {
			err = fmt.Errorf("failed to get top-level build sizes: %w", err)
			core.LogError(err.Error())
			return fail(err)
		}
		if b.tlas, err = b.createStructure(gpu.AccelTopLevel, sizes.StructureSize, "tlas"); err != nil {
			return fail(err)
		}
		if b.tlasScratch, err = b.scratch(max(sizes.BuildScratchSize, sizes.UpdateScratchSize), "tlas.scratch"); err != nil {
			return fail(err)
		}
		b.tlasFlags = flags
		b.instanceCount = len(instances)
	}
	info.Dst = b.tlas.Handle
	if update {
		info.Src = b.tlas.Handle
	}
	info.ScratchAddress = b.tlasScratch.Address

	staging, err := b.allocator.CreateBuffer(alloc.BufferInfo{
		Size:   uint64(len(data)),
		Usage:  gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryCPUToGPU,
		Name:   "tlas.instances.staging",
	}, alloc.LifetimeManual)
	if err != nil {
		return fail(err)
	}
	defer b.allocator.DestroyBuffer(staging)
	if err := staging.Write(0, data); err != nil {
		return fail(err)
	}

	err = b.sub.Submit(func(cb gpu.CommandBuffer) error {
		cb.CopyBuffer(staging.Handle, b.instances.Handle, []gpu.BufferCopy{{Size: uint64(len(data))}})
		cb.PipelineBarrier(gpu.Barriers{Buffers: []gpu.BufferBarrier{{
			Buffer:    b.instances.Handle,
			Size:      uint64(len(data)),
			SrcStage:  gpu.StageTransfer,
			DstStage:  gpu.StageAccelStructureBuild,
			SrcAccess: gpu.AccessTransferWrite,
			DstAccess: gpu.AccessAccelStructureWrite,
		}}})
		cb.BuildAccelStructure(info)
		return nil
	})
	if err != nil {
		err = fmt.Errorf("failed to build top-level structure: %w", err)
		core.LogError(err.Error())
		return fail(err)
	}
	b.log.Debug("tlas built", "instances", len(instances), "update", update)
	return nil
}

func (b *Builder) releaseTopLevel() {
	b.destroyStructure(b.tlas)
	b.allocator.DestroyBuffer(b.tlasScratch)
	b.allocator.DestroyBuffer(b.instances)
	b.tlas, b.tlasScratch, b.instances = nil, nil, nil
	b.tlasFlags = 0
	b.instanceCount = 0
}

// Register binds the top-level structure into the general ray tracing set at
// binding and into binding 0 of the TLAS set read by the lighting pass.
func (b *Builder) Register(sets *descriptors.Manager, binding uint32) error {
	if b.tlas == nil {
		core.LogError(ErrNoTopLevel.Error())
		return ErrNoTopLevel
	}
	tlas := []gpu.AccelStructure{b.tlas.Handle}
	if err := sets.RegisterAccelStructure(descriptors.SetRayTracingGeneral, gpu.ShaderStageRaygen|gpu.ShaderStageClosestHit, tlas, binding, 1, false, false); err != nil {
		return err
	}
	return sets.RegisterAccelStructure(descriptors.SetTLAS, gpu.ShaderStageFragment|gpu.ShaderStageRaygen, tlas, 0, 1, false, false)
}

func (b *Builder) Destroy() {
	b.releaseTopLevel()
	for _, s := range b.blas {
		b.destroyStructure(s)
	}
	b.blas = nil
}
