package gpu

type AccelStructureType uint32

const (
	AccelBottomLevel AccelStructureType = iota
	AccelTopLevel
)

type BuildFlags uint32

const (
	BuildAllowUpdate BuildFlags = 1 << iota
	BuildAllowCompaction
	BuildPreferFastTrace
	BuildPreferFastBuild
)

type TrianglesGeometry struct {
	VertexFormat   Format
	VertexAddress  DeviceAddress
	VertexStride   uint64
	MaxVertex      uint32
	IndexType      IndexType
	IndexAddress   DeviceAddress
	PrimitiveCount uint32
	Opaque         bool
}

type InstancesGeometry struct {
	Address DeviceAddress
	Count   uint32
}

// AccelBuildInfo describes one acceleration structure build or update.
// Bottom-level builds use Triangles, top-level builds use Instances.
type AccelBuildInfo struct {
	Type           AccelStructureType
	Flags          BuildFlags
	Update         bool
	Src            AccelStructure
	Dst            AccelStructure
	Triangles      []TrianglesGeometry
	Instances      *InstancesGeometry
	ScratchAddress DeviceAddress
}

type AccelBuildSizes struct {
	StructureSize     uint64
	BuildScratchSize  uint64
	UpdateScratchSize uint64
}

// InstanceSize is the byte size of one packed top-level instance record.
const InstanceSize = 64
