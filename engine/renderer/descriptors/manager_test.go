package descriptors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
)

const frames = 3

func bufferInfos(handles ...gpu.Buffer) []gpu.BufferInfo {
	out := make([]gpu.BufferInfo, len(handles))
	for i, h := range handles {
		out[i] = gpu.BufferInfo{Buffer: h, Range: 256}
	}
	return out
}

func TestMaskIDsAscending(t *testing.T) {
	m := MaskOf(SetTLAS, SetGlobal, SetGBuffer)
	assert.Equal(t, []SetID{SetGlobal, SetGBuffer, SetTLAS}, m.IDs())
	assert.True(t, m.Has(SetGBuffer))
	assert.False(t, m.Has(SetSkybox))
	assert.Equal(t, "global|gbuffer|tlas", m.String())
}

func TestMaskIndexCountsLowerSets(t *testing.T) {
	m := MaskOf(SetGlobal, SetGBuffer, SetTLAS)
	for want, id := range m.IDs() {
		n, ok := m.Index(id)
		require.True(t, ok, id.String())
		assert.Equal(t, uint32(want), n, id.String())
	}
	_, ok := m.Index(SetSkybox)
	assert.False(t, ok)

	n, _ := MaskOf(SetPostProcess).Index(SetPostProcess)
	assert.Zero(t, n)
}

func TestGLSLHeaderUsesPositionWithinPass(t *testing.T) {
	h := GLSLHeader()
	assert.Contains(t, h, "#define LIGHTING_SET_GLOBAL 0\n")
	assert.Contains(t, h, "#define LIGHTING_SET_GBUFFER 1\n")
	assert.Contains(t, h, "#define LIGHTING_SET_TLAS 2\n")
	assert.Contains(t, h, "#define FXAA_SET_POST_PROCESS 0\n")
	assert.Contains(t, h, "#define SKYBOX_SET_SKYBOX 1\n")
	assert.Contains(t, h, "#define PATH_TRACE_SET_RAY_TRACING_GENERAL 4\n")
	assert.NotContains(t, h, "SKYBOX_SET_OBJECTS")
	assert.Less(t, strings.Index(h, "GBUFFER_SET_"), strings.Index(h, "LIGHTING_SET_"))
}

func TestLightingWithoutTopLevelKeepsPositions(t *testing.T) {
	full := LightingPass.Sets
	raster := LightingPass.Without(MaskOf(SetTLAS)).Sets
	assert.False(t, raster.Has(SetTLAS))
	for _, id := range raster.IDs() {
		a, _ := full.Index(id)
		b, _ := raster.Index(id)
		assert.Equal(t, a, b, id.String())
	}
}

func TestPerFrameWritesMultiplyByFrameCount(t *testing.T) {
	dev := gputest.NewDevice(false)
	m := NewManager(dev, frames)

	require.NoError(t, m.RegisterBuffer(SetGlobal, gpu.ShaderStageAllGraphics, gpu.DescriptorUniformBuffer, bufferInfos(1), 0, 1, false, true))
	require.NoError(t, m.RegisterBuffer(SetGlobal, gpu.ShaderStageFragment, gpu.DescriptorUniformBuffer, bufferInfos(2), 1, 1, false, true))
	require.NoError(t, m.RegisterBuffer(SetObjects, gpu.ShaderStageVertex, gpu.DescriptorStorageBuffer, bufferInfos(10, 11, 12), 0, 1, false, true))

	assert.Len(t, m.Writes(SetGlobal), 2*frames)
	assert.Len(t, m.Writes(SetObjects), frames)

	// Frame-major infos give each frame its own buffer.
	objects := m.Writes(SetObjects)
	for f := 0; f < frames; f++ {
		require.Len(t, objects[f].Buffers, 1)
		assert.Equal(t, gpu.Buffer(10+f), objects[f].Buffers[0].Buffer)
	}
}

func TestFirstRegistrationFixesFlags(t *testing.T) {
	m := NewManager(gputest.NewDevice(false), frames)
	require.NoError(t, m.RegisterBuffer(SetRayTracingPerFrame, gpu.ShaderStageRaygen, gpu.DescriptorUniformBuffer, bufferInfos(1), 0, 1, false, true))
	require.NoError(t, m.RegisterBuffer(SetRayTracingPerFrame, gpu.ShaderStageRaygen, gpu.DescriptorStorageBuffer, bufferInfos(2), 1, 1, false, false))

	assert.True(t, m.IsPerFrame(SetRayTracingPerFrame))
	assert.Len(t, m.Writes(SetRayTracingPerFrame), 2*frames)
}

func TestAllocateAndUpdateResolveEveryWrite(t *testing.T) {
	dev := gputest.NewDevice(true)
	m := NewManager(dev, frames)

	require.NoError(t, m.RegisterBuffer(SetGlobal, gpu.ShaderStageAllGraphics, gpu.DescriptorUniformBuffer, bufferInfos(1), 0, 1, false, true))
	require.NoError(t, m.RegisterImage(SetDiffuseTextures, gpu.ShaderStageFragment, gpu.DescriptorCombinedImageSampler,
		[]gpu.ImageInfo{{View: 5, Sampler: 6}, {View: 7, Sampler: 6}}, 0, 2, true, false))
	require.NoError(t, m.RegisterImage(SetGBuffer, gpu.ShaderStageFragment, gpu.DescriptorCombinedImageSampler,
		[]gpu.ImageInfo{{View: 8, Sampler: 6}}, 0, 1, false, false))
	require.NoError(t, m.RegisterAccelStructure(SetTLAS, gpu.ShaderStageFragment|gpu.ShaderStageRaygen, []gpu.AccelStructure{40}, 0, 1, false, false))

	require.NoError(t, m.AllocateSets())
	n, err := m.UpdateSets()
	require.NoError(t, err)
	assert.Equal(t, frames+3, n)

	require.Len(t, dev.DescriptorUpdates, 1, "writes go out in one batched call")
	for _, w := range dev.DescriptorUpdates[0] {
		assert.NotZero(t, w.Set, "write for binding %d has no destination", w.Binding)
		_, ok := dev.Sets[w.Set]
		assert.True(t, ok)
	}

	textures := m.GetDescriptorSets(MaskOf(SetDiffuseTextures), 0)[0]
	assert.Equal(t, uint32(2), dev.SetVariableCount[textures])
	assert.True(t, dev.Layouts[m.GetLayouts(MaskOf(SetDiffuseTextures))[0]][0].Bindless)
}

func TestUpdateSkipsEmptyWrites(t *testing.T) {
	dev := gputest.NewDevice(false)
	m := NewManager(dev, frames)
	require.NoError(t, m.RegisterImage(SetPostProcess, gpu.ShaderStageFragment, gpu.DescriptorCombinedImageSampler, nil, 0, 1, false, false))
	require.NoError(t, m.RegisterImage(SetPostProcess, gpu.ShaderStageFragment, gpu.DescriptorCombinedImageSampler, []gpu.ImageInfo{{View: 3}}, 1, 1, false, false))
	require.NoError(t, m.AllocateSets())

	n, err := m.UpdateSets()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetLayoutsFollowsMaskOrder(t *testing.T) {
	dev := gputest.NewDevice(true)
	m := NewManager(dev, frames)
	for _, id := range []SetID{SetTLAS, SetGBuffer, SetGlobal, SetObjects} {
		require.NoError(t, m.RegisterBuffer(id, gpu.ShaderStageFragment, gpu.DescriptorUniformBuffer, bufferInfos(1), 0, 1, false, false))
	}
	require.NoError(t, m.AllocateSets())

	single := func(id SetID) gpu.DescriptorSetLayout { return m.GetLayouts(MaskOf(id))[0] }
	layouts := m.GetLayouts(MaskOf(SetTLAS, SetGlobal, SetGBuffer))
	assert.Equal(t, []gpu.DescriptorSetLayout{single(SetGlobal), single(SetGBuffer), single(SetTLAS)}, layouts)
	assert.Empty(t, m.GetLayouts(0))
}

func TestGetDescriptorSetsPerFrame(t *testing.T) {
	dev := gputest.NewDevice(false)
	m := NewManager(dev, frames)
	require.NoError(t, m.RegisterBuffer(SetGlobal, gpu.ShaderStageVertex, gpu.DescriptorUniformBuffer, bufferInfos(1), 0, 1, false, true))
	require.NoError(t, m.RegisterImage(SetSkybox, gpu.ShaderStageFragment, gpu.DescriptorCombinedImageSampler, []gpu.ImageInfo{{View: 2}}, 0, 1, false, false))
	require.NoError(t, m.AllocateSets())

	mask := MaskOf(SetGlobal, SetSkybox)
	f0 := m.GetDescriptorSets(mask, 0)
	f1 := m.GetDescriptorSets(mask, 1)
	f3 := m.GetDescriptorSets(mask, 3)
	require.Len(t, f0, 2)
	assert.NotEqual(t, f0[0], f1[0])
	assert.Equal(t, f0[1], f1[1])
	assert.Equal(t, f0, f3)
}

func TestAllocateTwiceFails(t *testing.T) {
	dev := gputest.NewDevice(false)
	m := NewManager(dev, frames)
	require.NoError(t, m.RegisterBuffer(SetGlobal, gpu.ShaderStageVertex, gpu.DescriptorUniformBuffer, bufferInfos(1), 0, 1, false, true))
	require.NoError(t, m.AllocateSets())

	assert.ErrorIs(t, m.AllocateSets(), ErrAlreadyAllocated)
	assert.ErrorIs(t, m.RegisterBuffer(SetObjects, gpu.ShaderStageVertex, gpu.DescriptorStorageBuffer, bufferInfos(1), 0, 1, false, true), ErrAlreadyAllocated)

	m.Destroy()
	assert.Empty(t, dev.Layouts)
	assert.Empty(t, dev.DescriptorPools)

	require.NoError(t, m.RegisterBuffer(SetGlobal, gpu.ShaderStageVertex, gpu.DescriptorUniformBuffer, bufferInfos(1), 0, 1, false, true))
	assert.NoError(t, m.AllocateSets())
}

func TestUpdateBeforeAllocateFails(t *testing.T) {
	m := NewManager(gputest.NewDevice(false), frames)
	_, err := m.UpdateSets()
	assert.ErrorIs(t, err, ErrNotAllocated)
}
