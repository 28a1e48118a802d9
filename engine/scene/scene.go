// Package scene holds the meshes, materials, render objects, lights and
// camera consumed by the renderer.
package scene

import (
	"cmp"
	"sync"

	"github.com/google/uuid"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"golang.org/x/exp/slices"
)

type Scene struct {
	Meshes    []*Mesh
	Materials []*Material
	Objects   []*RenderObject
	// Textures holds unique texture paths referenced by material indices.
	Textures []string

	Directional DirectionalLight
	PointLights []PointLight

	textureIndex map[string]int
	nextMesh     uint32
	nextMaterial uint32
	overflowOnce sync.Once
}

func New() *Scene {
	return &Scene{
		Directional:  DefaultDirectionalLight(),
		textureIndex: make(map[string]int),
	}
}

func (s *Scene) AddMesh(data MeshData) *Mesh {
	m := &Mesh{ID: s.nextMesh, Data: data, BlasIndex: -1}
	s.nextMesh++
	s.Meshes = append(s.Meshes, m)
	return m
}

func (s *Scene) texture(path string) int {
	if path == "" {
		return NoTexture
	}
	if i, ok := s.textureIndex[path]; ok {
		return i
	}
	i := len(s.Textures)
	s.Textures = append(s.Textures, path)
	s.textureIndex[path] = i
	return i
}

// AddMaterials registers every material of m and returns them in order.
func (s *Scene) AddMaterials(m Materials) []*Material {
	at := func(paths []string, i int) string {
		if i < len(paths) {
			return paths[i]
		}
		return ""
	}
	out := make([]*Material, len(m.Names))
	for i, name := range m.Names {
		mat := &Material{
			ID:             s.nextMaterial,
			Name:           name,
			DiffuseIndex:   s.texture(at(m.Diffuse, i)),
			MetallicIndex:  s.texture(at(m.Metallic, i)),
			RoughnessIndex: s.texture(at(m.Roughness, i)),
			NormalIndex:    s.texture(at(m.Normal, i)),
		}
		s.nextMaterial++
		s.Materials = append(s.Materials, mat)
		out[i] = mat
	}
	return out
}

// Push adds a render object. Objects are pushed once while the scene is set
// up and read by the renderer every frame.
func (s *Scene) Push(mesh *Mesh, material *Material, transform math.Mat4) *RenderObject {
	o := &RenderObject{ID: uuid.New(), Mesh: mesh, Material: material, Transform: transform}
	s.Objects = append(s.Objects, o)
	return o
}

// LoadModel imports path and pushes one object per mesh with transform.
// Import failures are logged and the model is skipped.
func (s *Scene) LoadModel(loader MeshLoader, path string, transform math.Mat4) int {
	meshes, materials, err := loader.LoadModel(path)
	if err != nil {
		core.LogError("failed to load model %s, skipping: %s", path, err)
		return 0
	}
	mats := s.AddMaterials(materials)
	for _, data := range meshes {
		var mat *Material
		if data.MaterialIndex >= 0 && data.MaterialIndex < len(mats) {
			mat = mats[data.MaterialIndex]
		} else {
			core.LogWarn("mesh %s of %s has no material %d", data.Name, path, data.MaterialIndex)
		}
		s.Push(s.AddMesh(data), mat, transform)
	}
	return len(meshes)
}

func materialID(m *Material) int64 {
	if m == nil {
		return -1
	}
	return int64(m.ID)
}

// SortedObjects returns the render objects ordered by material then mesh so
// consecutive draws share pipeline and descriptor state. Ties keep push
// order.
func (s *Scene) SortedObjects() []*RenderObject {
	out := slices.Clone(s.Objects)
	slices.SortStableFunc(out, func(a, b *RenderObject) int {
		if c := cmp.Compare(materialID(a.Material), materialID(b.Material)); c != 0 {
			return c
		}
		return cmp.Compare(a.Mesh.ID, b.Mesh.ID)
	})
	return out
}

// Lighting packs the scene lights for the current frame. Lights past
// MaxPointLightsPerFrame are reported once per scene.
func (s *Scene) Lighting() Lighting {
	if n := len(s.PointLights); n > MaxPointLightsPerFrame {
		s.overflowOnce.Do(func() {
			core.LogWarn("%d point lights in scene, only %d are lit", n, MaxPointLightsPerFrame)
		})
	}
	return BuildLighting(s.Directional, s.PointLights)
}
