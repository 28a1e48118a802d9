package pipeline

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type Region struct {
	Offset uint64
	Stride uint64
	Size   uint64
}

// SBTLayout places the raygen, miss and hit regions back to back in one buffer.
type SBTLayout struct {
	HandleSize uint64
	Raygen     Region
	Miss       Region
	Hit        Region
	Size       uint64
}

// ComputeSBTLayout derives region strides and sizes from the device's shader
// group handle size, handle alignment and base alignment. Every region starts
// on a base-aligned offset; raygen holds a single entry so its stride equals
// its size.
func ComputeSBTLayout(handleSize, handleAlignment, baseAlignment, missCount, hitCount uint32) SBTLayout {
	h := uint64(handleSize)
	a1 := uint64(handleAlignment)
	a2 := uint64(baseAlignment)
	stride := math.AlignUp(h, a1)

	l := SBTLayout{HandleSize: h}
	rgen := math.AlignUp(h, a2)
	l.Raygen = Region{Offset: 0, Stride: rgen, Size: rgen}
	l.Miss = Region{
		Offset: l.Raygen.Size,
		Stride: stride,
		Size:   math.AlignUp(uint64(missCount)*stride, a2),
	}
	l.Hit = Region{
		Offset: l.Miss.Offset + l.Miss.Size,
		Stride: stride,
		Size:   math.AlignUp(uint64(hitCount)*stride, a2),
	}
	l.Size = l.Hit.Offset + l.Hit.Size
	return l
}

// pack copies group handles (raygen, then misses, then hits) to their
// region offsets.
func (l SBTLayout) pack(handles []byte, missCount, hitCount int) []byte {
	out := make([]byte, l.Size)
	h := int(l.HandleSize)
	group := func(i int) []byte { return handles[i*h : (i+1)*h] }

	copy(out[l.Raygen.Offset:], group(0))
	for i := 0; i < missCount; i++ {
		copy(out[l.Miss.Offset+uint64(i)*l.Miss.Stride:], group(1+i))
	}
	for i := 0; i < hitCount; i++ {
		copy(out[l.Hit.Offset+uint64(i)*l.Hit.Stride:], group(1+missCount+i))
	}
	return out
}

type ShaderBindingTable struct {
	Layout  SBTLayout
	Buffer  *alloc.Buffer
	Regions gpu.SBTRegions
}

func buildSBT(dev gpu.Device, allocator *alloc.Allocator, sub alloc.Submitter, p gpu.Pipeline, name string, missCount, hitCount int) (*ShaderBindingTable, error) {
	lim := dev.Limits()
	layout := ComputeSBTLayout(lim.ShaderGroupHandleSize, lim.ShaderGroupHandleAlignment, lim.ShaderGroupBaseAlignment, uint32(missCount), uint32(hitCount))

	groups := uint32(1 + missCount + hitCount)
	handles, err := dev.ShaderGroupHandles(p, 0, groups)
	if err != nil {
		return nil, fmt.Errorf("failed to get shader group handles for %s: %w", name, err)
	}
	if len(handles) < int(groups)*int(layout.HandleSize) {
		return nil, fmt.Errorf("pass %s: got %d handle bytes for %d groups", name, len(handles), groups)
	}

	buf, err := allocator.UploadBuffer(sub, layout.pack(handles, missCount, hitCount), alloc.BufferInfo{
		Usage: gpu.BufferUsageShaderBindingTable | gpu.BufferUsageDeviceAddress,
		Name:  name + ".sbt",
	}, gpu.StageRayTracingShader, gpu.AccessShaderRead)
	if err != nil {
		return nil, err
	}

	region := func(r Region) gpu.StridedRegion {
		return gpu.StridedRegion{Address: buf.Address + gpu.DeviceAddress(r.Offset), Stride: r.Stride, Size: r.Size}
	}
	return &ShaderBindingTable{
		Layout: layout,
		Buffer: buf,
		Regions: gpu.SBTRegions{
			Raygen: region(layout.Raygen),
			Miss:   region(layout.Miss),
			Hit:    region(layout.Hit),
		},
	}, nil
}
