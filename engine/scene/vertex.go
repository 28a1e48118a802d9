package scene

import (
	"encoding/binary"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Vertex is the interleaved vertex shared by the raster and ray tracing
// paths. Position comes first so acceleration structure builds can read it
// straight from the vertex buffer.
type Vertex struct {
	Position math.Vec3
	Normal   math.Vec3
	Tangent  math.Vec4
	UV       math.Vec2
	Color    math.Vec4
}

const VertexSize = 64

func VertexLayout() *gpu.VertexLayout {
	return &gpu.VertexLayout{
		Stride: VertexSize,
		Attributes: []gpu.VertexAttribute{
			{Location: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
			{Location: 1, Format: gpu.FormatR32G32B32Sfloat, Offset: 12},
			{Location: 2, Format: gpu.FormatR32G32B32A32Sfloat, Offset: 24},
			{Location: 3, Format: gpu.FormatR32G32Sfloat, Offset: 40},
			{Location: 4, Format: gpu.FormatR32G32B32A32Sfloat, Offset: 48},
		},
	}
}

func EncodeVertices(vertices []Vertex) []byte {
	out, _ := binary.Append(make([]byte, 0, len(vertices)*VertexSize), binary.LittleEndian, vertices)
	return out
}

func EncodeIndices(indices []uint32) []byte {
	out, _ := binary.Append(make([]byte, 0, len(indices)*4), binary.LittleEndian, indices)
	return out
}
