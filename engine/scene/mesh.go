package scene

import (
	"github.com/google/uuid"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
)

// MeshData is the CPU-side geometry handed over by a MeshLoader.
type MeshData struct {
	Name          string
	Vertices      []Vertex
	Indices       []uint32
	MaterialIndex int
	Emissive      math.Vec4
}

// Materials lists texture paths per material. All slices are indexed in
// parallel with Names; an empty path selects the placeholder texture.
type Materials struct {
	Names     []string
	Diffuse   []string
	Metallic  []string
	Roughness []string
	Normal    []string
}

// MeshLoader imports a model file.
type MeshLoader interface {
	LoadModel(path string) ([]MeshData, Materials, error)
}

type Mesh struct {
	ID   uint32
	Data MeshData
	// Buffers are filled in by the renderer at upload time.
	VertexBuffer *alloc.Buffer
	IndexBuffer  *alloc.Buffer
	// BlasIndex is -1 until a bottom-level structure exists for the mesh.
	BlasIndex int
}

// NoTexture marks a material slot that uses the placeholder texture.
const NoTexture = -1

type Material struct {
	ID             uint32
	Name           string
	DiffuseIndex   int
	MetallicIndex  int
	RoughnessIndex int
	NormalIndex    int
}

type RenderObject struct {
	ID        uuid.UUID
	Mesh      *Mesh
	Material  *Material
	Transform math.Mat4
}
