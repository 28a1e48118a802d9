package accel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lmath "github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/frames"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
)

func TestPlanBatches(t *testing.T) {
	batches := PlanBatches([]uint64{10, 20, 30, 100, 5}, 50)
	assert.Equal(t, [][]int{{0, 1}, {2}, {3}, {4}}, batches)

	assert.Empty(t, PlanBatches(nil, 50))
	assert.Equal(t, [][]int{{0, 1, 2}}, PlanBatches([]uint64{1, 2, 3}, 6))
}

func TestPlanBatchesStaysWithinBudget(t *testing.T) {
	sizes := []uint64{7, 3, 9, 12, 1, 1, 1, 30, 4, 6, 6, 2}
	const budget = 12
	seen := 0
	for _, batch := range PlanBatches(sizes, budget) {
		var sum uint64
		for _, i := range batch {
			assert.Equal(t, seen, i, "batches keep input order")
			seen++
			sum += sizes[i]
		}
		if len(batch) > 1 {
			assert.LessOrEqual(t, sum, uint64(budget))
		}
	}
	assert.Equal(t, len(sizes), seen)
}

func TestInstanceEncoding(t *testing.T) {
	in := Instance{
		Transform:   lmath.NewMat4Translation(lmath.NewVec3(1, 2, 3)),
		CustomIndex: 0x1234567,
		Mask:        0xFF,
		HitGroup:    1,
		Flags:       InstanceTriangleCullDisable,
	}
	buf := make([]byte, gpu.InstanceSize)
	in.encode(buf, 0xDEADBEEF)

	f := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])) }
	assert.Equal(t, []float32{1, 0, 0, 1}, []float32{f(0), f(1), f(2), f(3)})
	assert.Equal(t, []float32{0, 1, 0, 2}, []float32{f(4), f(5), f(6), f(7)})
	assert.Equal(t, []float32{0, 0, 1, 3}, []float32{f(8), f(9), f(10), f(11)})
	assert.Equal(t, uint32(0x234567|0xFF<<24), binary.LittleEndian.Uint32(buf[48:]))
	assert.Equal(t, uint32(1|1<<24), binary.LittleEndian.Uint32(buf[52:]))
	assert.Equal(t, uint64(0xDEADBEEF), binary.LittleEndian.Uint64(buf[56:]))
}

type fixture struct {
	dev       *gputest.Device
	allocator *alloc.Allocator
	builder   *Builder
}

func newFixture(t *testing.T, budget uint64) *fixture {
	dev := gputest.NewDevice(true)
	allocator := alloc.NewAllocator(dev, alloc.NewDeletionQueue())
	imm, err := frames.NewImmediate(dev, time.Second)
	require.NoError(t, err)
	t.Cleanup(imm.Destroy)

	b, err := NewBuilder(dev, allocator, imm, budget)
	require.NoError(t, err)
	return &fixture{dev: dev, allocator: allocator, builder: b}
}

// meshes returns inputs of 100 triangles each. With the fake's size model
// every structure needs 26624 bytes and 13312 bytes of scratch.
func meshes(n int) []MeshInput {
	out := make([]MeshInput, n)
	for i := range out {
		out[i] = MeshInput{
			Name:          fmt.Sprintf("mesh%d", i),
			VertexAddress: gpu.DeviceAddress(0x1000 * (i + 1)),
			VertexStride:  64,
			VertexCount:   150,
			IndexAddress:  gpu.DeviceAddress(0x100000 * (i + 1)),
			IndexCount:    300,
			Opaque:        true,
		}
	}
	return out
}

func TestNewBuilderRequiresRayTracing(t *testing.T) {
	dev := gputest.NewDevice(false)
	_, err := NewBuilder(dev, alloc.NewAllocator(dev, alloc.NewDeletionQueue()), nil, 0)
	assert.ErrorIs(t, err, gpu.ErrRayTracingUnsupported)
}

func TestBuildBlasBatchesWithSharedScratch(t *testing.T) {
	f := newFixture(t, 60000)
	require.NoError(t, f.builder.BuildBlas(meshes(3), gpu.BuildPreferFastTrace))

	require.Len(t, f.dev.Submissions, 2, "one submission per batch")
	first := gputest.Filter(f.dev.Submissions[0].Commands, "build-accel")
	second := gputest.Filter(f.dev.Submissions[1].Commands, "build-accel")
	require.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.NotEqual(t, f.dev.Submissions[0].CommandBuffer.ID, f.dev.Submissions[1].CommandBuffer.ID)

	scratch := first[0].Args.(gpu.AccelBuildInfo).ScratchAddress
	assert.NotZero(t, scratch)
	for _, c := range append(first, second...) {
		info := c.Args.(gpu.AccelBuildInfo)
		assert.Equal(t, scratch, info.ScratchAddress)
		assert.Equal(t, uint32(100), info.Triangles[0].PrimitiveCount)
		assert.Equal(t, uint32(149), info.Triangles[0].MaxVertex)
	}
	assert.Equal(t, []string{"build-accel", "barrier", "build-accel", "barrier"}, gputest.Names(f.dev.Submissions[0].Commands))

	require.Equal(t, 3, f.builder.BlasCount())
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint64(26624), f.builder.Blas(i).Size)
	}
	assert.Equal(t, 3, f.allocator.Live(), "scratch is released after the build")
}

func TestBuildBlasCompactionFreesSourceAfterCopy(t *testing.T) {
	f := newFixture(t, 60000)
	require.NoError(t, f.builder.BuildBlas(meshes(3), gpu.BuildAllowCompaction|gpu.BuildPreferFastTrace))

	// build, compact, build, compact
	require.Len(t, f.dev.Submissions, 4)
	build := f.dev.Submissions[0].Commands
	assert.Equal(t, "reset-query-pool", build[0].Name)
	props := gputest.Filter(build, "write-accel-properties")
	require.Len(t, props, 1)
	assert.Equal(t, uint32(0), props[0].Args.(gputest.WriteAccelPropertiesArgs).First)
	props = gputest.Filter(f.dev.Submissions[2].Commands, "write-accel-properties")
	require.Len(t, props, 1)
	assert.Equal(t, uint32(2), props[0].Args.(gputest.WriteAccelPropertiesArgs).First)

	copies := gputest.Filter(f.dev.Submissions[1].Commands, "copy-accel")
	require.Len(t, copies, 2)
	copySubmit := f.dev.IndexOf(fmt.Sprintf("submit %d", f.dev.Submissions[1].CommandBuffer.ID))
	require.GreaterOrEqual(t, copySubmit, 0)
	for n, c := range copies {
		args := c.Args.(gputest.CopyAccelArgs)
		assert.True(t, args.Compact)
		assert.Equal(t, build[1+2*n].Args.(gpu.AccelBuildInfo).Dst, args.Src)
		destroyed := f.dev.IndexOf(fmt.Sprintf("destroy-accel %d", args.Src))
		assert.Greater(t, destroyed, copySubmit, "source %d released before its copy", args.Src)
		assert.Equal(t, f.builder.Blas(n).Handle, args.Dst)
	}

	require.Equal(t, 3, f.builder.BlasCount())
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint64(13312), f.builder.Blas(i).Size)
	}
	assert.Len(t, f.dev.Accels, 3, "only compacted structures remain")
	assert.Empty(t, f.dev.QueryPools)
}

func TestBuildTlas(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.builder.BuildBlas(meshes(2), 0))
	submitted := len(f.dev.Submissions)

	instances := []Instance{
		{Transform: lmath.NewMat4Identity(), Blas: 0, Mask: 0xFF},
		{Transform: lmath.NewMat4Translation(lmath.NewVec3(4, 0, 0)), Blas: 1, CustomIndex: 1, Mask: 0xFF},
	}
	require.NoError(t, f.builder.BuildTlas(instances, false, gpu.BuildAllowUpdate|gpu.BuildPreferFastTrace))
	tlas := f.builder.Tlas()
	require.NotNil(t, tlas)

	cmds := f.dev.Submissions[submitted].Commands
	assert.Equal(t, []string{"copy-buffer", "barrier", "build-accel"}, gputest.Names(cmds))
	barrier := cmds[1].Args.(gpu.Barriers).Buffers[0]
	assert.Equal(t, gpu.AccessTransferWrite, barrier.SrcAccess)
	assert.Equal(t, gpu.AccessAccelStructureWrite, barrier.DstAccess)

	info := cmds[2].Args.(gpu.AccelBuildInfo)
	assert.Equal(t, gpu.AccelTopLevel, info.Type)
	assert.False(t, info.Update)
	assert.Equal(t, tlas.Handle, info.Dst)
	require.NotNil(t, info.Instances)
	assert.Equal(t, uint32(2), info.Instances.Count)

	data := f.dev.Buffers[cmds[0].Args.(gputest.CopyBufferArgs).Dst].Data
	require.Len(t, data, 2*gpu.InstanceSize)
	assert.Equal(t, uint64(f.builder.Blas(0).Address), binary.LittleEndian.Uint64(data[56:]))
	assert.Equal(t, uint64(f.builder.Blas(1).Address), binary.LittleEndian.Uint64(data[gpu.InstanceSize+56:]))

	require.NoError(t, f.builder.BuildTlas(instances, true, 0))
	update := gputest.Filter(f.dev.Submissions[len(f.dev.Submissions)-1].Commands, "build-accel")[0].Args.(gpu.AccelBuildInfo)
	assert.True(t, update.Update)
	assert.Equal(t, tlas.Handle, update.Src)
	assert.Equal(t, tlas.Handle, update.Dst)
	assert.Same(t, tlas, f.builder.Tlas())

	assert.ErrorIs(t, f.builder.BuildTlas(instances[:1], true, 0), ErrInstanceCount)

	f.builder.Destroy()
	assert.Empty(t, f.dev.Accels)
	assert.Zero(t, f.allocator.Live())
}

func TestBuildTlasErrors(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.builder.BuildBlas(meshes(1), 0))
	instances := []Instance{{Transform: lmath.NewMat4Identity(), Mask: 0xFF}}

	assert.ErrorIs(t, f.builder.BuildTlas(instances, true, 0), ErrNoTopLevel)
	assert.ErrorIs(t, f.builder.BuildTlas([]Instance{{Blas: 3}}, false, 0), ErrUnknownBottomLevel)

	require.NoError(t, f.builder.BuildTlas(instances, false, 0))
	assert.ErrorIs(t, f.builder.BuildTlas(instances, true, 0), ErrUpdateNotAllowed)
}

func TestBuildBlasRejectsMeshWithoutTriangles(t *testing.T) {
	f := newFixture(t, 0)
	noVertices := meshes(2)
	noVertices[1].VertexCount = 0
	noIndices := meshes(2)
	noIndices[0].IndexCount = 0

	for _, inputs := range [][]MeshInput{noVertices, noIndices} {
		assert.ErrorIs(t, f.builder.BuildBlas(inputs, 0), ErrEmptyMesh)
	}
	assert.Empty(t, f.dev.Submissions)
	assert.Zero(t, f.builder.BlasCount())
	assert.Zero(t, f.allocator.Live())
}

func TestFailedTopLevelBuildLeavesNoStructure(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.builder.BuildBlas(meshes(1), 0))
	instances := []Instance{{Transform: lmath.NewMat4Identity(), Mask: 0xFF}}

	f.dev.Fail = func(call string) error {
		if call == "create-buffer tlas.scratch" {
			return errors.New("out of device memory")
		}
		return nil
	}
	require.Error(t, f.builder.BuildTlas(instances, false, gpu.BuildAllowUpdate))
	assert.Nil(t, f.builder.Tlas())
	assert.Len(t, f.dev.Accels, 1, "only the bottom-level structure is left")
	assert.Equal(t, 1, f.allocator.Live())
	assert.ErrorIs(t, f.builder.BuildTlas(instances, true, 0), ErrNoTopLevel)

	f.dev.Fail = nil
	require.NoError(t, f.builder.BuildTlas(instances, false, gpu.BuildAllowUpdate))
	require.NotNil(t, f.builder.Tlas())
	require.NoError(t, f.builder.BuildTlas(instances, true, 0))
}

func TestRegisterTopLevelInBothSets(t *testing.T) {
	f := newFixture(t, 0)
	sets := descriptors.NewManager(f.dev, 3)
	assert.ErrorIs(t, f.builder.Register(sets, 0), ErrNoTopLevel)

	require.NoError(t, f.builder.BuildBlas(meshes(1), 0))
	require.NoError(t, f.builder.BuildTlas([]Instance{{Transform: lmath.NewMat4Identity(), Mask: 0xFF}}, false, 0))
	require.NoError(t, f.builder.Register(sets, 2))

	for _, id := range []descriptors.SetID{descriptors.SetRayTracingGeneral, descriptors.SetTLAS} {
		writes := sets.Writes(id)
		require.Len(t, writes, 1, id.String())
		assert.Equal(t, gpu.DescriptorAccelStructure, writes[0].Type)
		assert.Equal(t, []gpu.AccelStructure{f.builder.Tlas().Handle}, writes[0].AccelStructures)
	}
	assert.Equal(t, uint32(2), sets.Writes(descriptors.SetRayTracingGeneral)[0].Binding)
}
