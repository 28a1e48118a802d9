package loaders

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/scene"
)

// ObjLoader imports Wavefront OBJ models with their MTL materials. Each
// usemtl run becomes one mesh; polygons are fanned into triangles.
type ObjLoader struct{}

type objIndex struct{ v, vt, vn int }

type objBuilder struct {
	positions []math.Vec3
	normals   []math.Vec3
	uvs       []math.Vec2

	meshes    []scene.MeshData
	current   *scene.MeshData
	dedup     map[objIndex]uint32
	materials map[string]int
}

func (ol *ObjLoader) LoadModel(path string) ([]scene.MeshData, scene.Materials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, scene.Materials{}, err
	}
	defer f.Close()

	b := &objBuilder{materials: make(map[string]int)}
	var mats scene.Materials
	b.start("default", -1)

	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		var err error
		switch fields[0] {
		case "v":
			var v math.Vec3
			v, err = parseVec3(fields[1:])
			b.positions = append(b.positions, v)
		case "vn":
			var v math.Vec3
			v, err = parseVec3(fields[1:])
			b.normals = append(b.normals, v)
		case "vt":
			var v math.Vec3
			v, err = parseVec3(append(fields[1:], "0", "0")[:3])
			b.uvs = append(b.uvs, math.NewVec2(v.X, 1-v.Y))
		case "f":
			err = b.face(fields[1:])
		case "mtllib":
			err = loadMtl(filepath.Join(filepath.Dir(path), strings.Join(fields[1:], " ")), &mats, b.materials)
		case "usemtl":
			idx, ok := b.materials[strings.Join(fields[1:], " ")]
			if !ok {
				idx = -1
			}
			b.start(strings.Join(fields[1:], " "), idx)
		}
		if err != nil {
			return nil, scene.Materials{}, fmt.Errorf("%s:%d: %w", path, line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, scene.Materials{}, err
	}
	b.flush()
	if len(b.meshes) == 0 {
		return nil, scene.Materials{}, fmt.Errorf("%s has no faces", path)
	}
	return b.meshes, mats, nil
}

func (b *objBuilder) start(name string, material int) {
	b.flush()
	b.current = &scene.MeshData{Name: name, MaterialIndex: material}
	b.dedup = make(map[objIndex]uint32)
}

func (b *objBuilder) flush() {
	if b.current != nil && len(b.current.Indices) > 0 {
		b.meshes = append(b.meshes, *b.current)
	}
	b.current = nil
}

func resolve(s string, n int) (int, error) {
	if s == "" {
		return -1, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		i += n
	} else {
		i--
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("index %s out of range", s)
	}
	return i, nil
}

func (b *objBuilder) vertex(ref string) (uint32, error) {
	parts := strings.Split(ref, "/")
	var idx objIndex
	var err error
	if idx.v, err = resolve(parts[0], len(b.positions)); err != nil {
		return 0, err
	}
	idx.vt, idx.vn = -1, -1
	if len(parts) > 1 {
		if idx.vt, err = resolve(parts[1], len(b.uvs)); err != nil {
			return 0, err
		}
	}
	if len(parts) > 2 {
		if idx.vn, err = resolve(parts[2], len(b.normals)); err != nil {
			return 0, err
		}
	}
	if i, ok := b.dedup[idx]; ok {
		return i, nil
	}

	v := scene.Vertex{Position: b.positions[idx.v], Color: math.NewVec4(1, 1, 1, 1), Tangent: math.NewVec4(1, 0, 0, 1)}
	if idx.vt >= 0 {
		v.UV = b.uvs[idx.vt]
	}
	if idx.vn >= 0 {
		v.Normal = b.normals[idx.vn]
	}
	i := uint32(len(b.current.Vertices))
	b.current.Vertices = append(b.current.Vertices, v)
	b.dedup[idx] = i
	return i, nil
}

func (b *objBuilder) face(refs []string) error {
	if len(refs) < 3 {
		return fmt.Errorf("face with %d vertices", len(refs))
	}
	ids := make([]uint32, len(refs))
	for i, r := range refs {
		id, err := b.vertex(r)
		if err != nil {
			return err
		}
		ids[i] = id
	}
	for i := 1; i+1 < len(ids); i++ {
		b.current.Indices = append(b.current.Indices, ids[0], ids[i], ids[i+1])
	}
	return nil
}

func parseVec3(fields []string) (math.Vec3, error) {
	if len(fields) < 3 {
		return math.Vec3{}, fmt.Errorf("expected 3 components, got %d", len(fields))
	}
	var c [3]float32
	for i := range c {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return math.Vec3{}, err
		}
		c[i] = float32(f)
	}
	return math.NewVec3(c[0], c[1], c[2]), nil
}

// loadMtl appends the materials of an MTL file. Texture paths are made
// relative to the MTL file's directory. A missing MTL file leaves the
// model untextured.
func loadMtl(path string, mats *scene.Materials, index map[string]int) error {
	f, err := os.Open(path)
	if err != nil {
		core.LogWarn("material library %s: %s", path, err)
		return nil
	}
	defer f.Close()

	dir := filepath.Dir(path)
	cur := -1
	set := func(slot []string, value string) {
		if cur >= 0 {
			slot[cur] = filepath.Join(dir, value)
		}
	}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		value := fields[len(fields)-1]
		switch fields[0] {
		case "newmtl":
			cur = len(mats.Names)
			name := strings.Join(fields[1:], " ")
			index[name] = cur
			mats.Names = append(mats.Names, name)
			mats.Diffuse = append(mats.Diffuse, "")
			mats.Metallic = append(mats.Metallic, "")
			mats.Roughness = append(mats.Roughness, "")
			mats.Normal = append(mats.Normal, "")
		case "map_Kd":
			set(mats.Diffuse, value)
		case "map_Pm":
			set(mats.Metallic, value)
		case "map_Pr":
			set(mats.Roughness, value)
		case "map_Bump", "map_bump", "bump", "norm":
			set(mats.Normal, value)
		}
	}
	return sc.Err()
}
