package scene

import (
	"bytes"
	"encoding/binary"
	"errors"
	stdmath "math"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

func TestVertexEncoding(t *testing.T) {
	v := Vertex{Position: math.NewVec3(1, 2, 3), UV: math.NewVec2(0.25, 0.75)}
	data := EncodeVertices([]Vertex{v, v})
	require.Len(t, data, 2*VertexSize)

	f := func(off int) float32 { return stdmath.Float32frombits(binary.LittleEndian.Uint32(data[off:])) }
	assert.Equal(t, float32(3), f(8))
	assert.Equal(t, float32(0.25), f(40))
	assert.Equal(t, float32(1), f(VertexSize))

	layout := VertexLayout()
	assert.Equal(t, uint32(VertexSize), layout.Stride)
	assert.Equal(t, uint32(40), layout.Attributes[3].Offset)
}

func TestMeshAndMaterialIDsAreMonotonic(t *testing.T) {
	s := New()
	a := s.AddMesh(MeshData{Name: "a"})
	b := s.AddMesh(MeshData{Name: "b"})
	assert.Equal(t, uint32(0), a.ID)
	assert.Equal(t, uint32(1), b.ID)
	assert.Equal(t, -1, a.BlasIndex)

	mats := s.AddMaterials(Materials{
		Names:   []string{"red", "blue"},
		Diffuse: []string{"red.png", "red.png"},
		Normal:  []string{"", "blue_n.png"},
	})
	require.Len(t, mats, 2)
	assert.Equal(t, uint32(1), mats[1].ID)
	assert.Equal(t, 0, mats[0].DiffuseIndex)
	assert.Equal(t, 0, mats[1].DiffuseIndex, "texture paths are shared")
	assert.Equal(t, NoTexture, mats[0].NormalIndex)
	assert.Equal(t, NoTexture, mats[0].MetallicIndex)
	assert.Equal(t, []string{"red.png", "blue_n.png"}, s.Textures)
}

func TestSortedObjectsIsStable(t *testing.T) {
	s := New()
	m0, m1 := s.AddMesh(MeshData{}), s.AddMesh(MeshData{})
	mats := s.AddMaterials(Materials{Names: []string{"a", "b"}})

	o1 := s.Push(m1, mats[1], math.NewMat4Identity())
	o2 := s.Push(m0, mats[1], math.NewMat4Identity())
	o3 := s.Push(m1, mats[0], math.NewMat4Identity())
	o4 := s.Push(m0, mats[1], math.NewMat4Identity())
	o5 := s.Push(m0, nil, math.NewMat4Identity())

	want := []*RenderObject{o5, o3, o2, o4, o1}
	for i := 0; i < 3; i++ {
		assert.Equal(t, want, s.SortedObjects())
	}
	assert.Equal(t, o1, s.Objects[0], "push order is preserved")
	assert.NotEqual(t, o2.ID, o4.ID)
}

type failingLoader struct {
	meshes    []MeshData
	materials Materials
	err       error
}

func (l failingLoader) LoadModel(path string) ([]MeshData, Materials, error) {
	return l.meshes, l.materials, l.err
}

func TestLoadModelSkipsFailures(t *testing.T) {
	s := New()
	assert.Zero(t, s.LoadModel(failingLoader{err: errors.New("corrupt")}, "broken.obj", math.NewMat4Identity()))
	assert.Empty(t, s.Objects)

	n := s.LoadModel(failingLoader{
		meshes:    []MeshData{{Name: "body", MaterialIndex: 0}, {Name: "wheel", MaterialIndex: 7}},
		materials: Materials{Names: []string{"paint"}},
	}, "car.obj", math.NewMat4Identity())
	assert.Equal(t, 2, n)
	require.Len(t, s.Objects, 2)
	assert.Equal(t, "paint", s.Objects[0].Material.Name)
	assert.Nil(t, s.Objects[1].Material)
}

func TestBuildLightingAccumulatesDistinctSlots(t *testing.T) {
	points := make([]PointLight, MaxPointLightsPerFrame+4)
	for i := range points {
		points[i].Position = math.NewVec4(float32(i), 0, 0, 1)
	}
	l := BuildLighting(DefaultDirectionalLight(), points)
	assert.Equal(t, uint32(MaxPointLightsPerFrame), l.PointCount)
	for i := 0; i < MaxPointLightsPerFrame; i++ {
		assert.Equal(t, float32(i), l.Points[i].Position.X)
	}

	l = BuildLighting(DefaultDirectionalLight(), points[:3])
	assert.Equal(t, uint32(3), l.PointCount)
	assert.Equal(t, float32(2), l.Points[2].Position.X)
	assert.Zero(t, l.Points[3])
}

func TestLightOverflowWarnsOncePerScene(t *testing.T) {
	var out bytes.Buffer
	core.SetLogOutput(&out)
	t.Cleanup(func() { core.SetLogOutput(os.Stderr) })

	s := New()
	s.PointLights = make([]PointLight, MaxPointLightsPerFrame+1)
	for frame := 0; frame < 5; frame++ {
		assert.Equal(t, uint32(MaxPointLightsPerFrame), s.Lighting().PointCount)
	}
	assert.Equal(t, 1, strings.Count(out.String(), "only 16 are lit"))

	out.Reset()
	s.PointLights = s.PointLights[:MaxPointLightsPerFrame]
	s.Lighting()
	assert.Empty(t, out.String())
}

func TestUniformSizes(t *testing.T) {
	assert.Equal(t, uint64(816), LightingSize)
	assert.Equal(t, uint64(416), CameraSize)
	assert.Len(t, Lighting{}.Bytes(), int(LightingSize))

	s := New()
	mats := s.AddMaterials(Materials{Names: []string{"m"}, Diffuse: []string{"d.png"}})
	o := s.Push(s.AddMesh(MeshData{}), mats[0], math.NewMat4Translation(math.NewVec3(1, 2, 3)))
	data := EncodeObjects([]*RenderObject{o, o})
	require.Len(t, data, 2*ObjectDataSize)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[80:]))
	assert.Equal(t, int32(NoTexture), int32(binary.LittleEndian.Uint32(data[88:])))
}

func TestCameraSnapshotMoved(t *testing.T) {
	c := NewCamera()
	a := c.Snapshot(16.0 / 9.0)
	assert.False(t, c.Snapshot(16.0/9.0).Moved(a))

	c.MoveForward(1)
	b := c.Snapshot(16.0 / 9.0)
	assert.True(t, b.Moved(a))
	assert.InDelta(t, -1, b.Position.Z, 1e-5)

	c.FOV += 0.1
	assert.True(t, c.Snapshot(16.0/9.0).Moved(b))
}

func TestCameraPitchIsClamped(t *testing.T) {
	c := NewCamera()
	c.Pitch(10)
	assert.InDelta(t, math.DegToRad(89), c.EulerRotation.X, 1e-5)
}
