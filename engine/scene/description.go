package scene

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

// Description is the TOML file listing what a scene contains. Angles are in
// degrees; model paths are relative to the description file.
type Description struct {
	Camera      CameraDescription       `toml:"camera"`
	Sun         *LightDescription       `toml:"sun"`
	Models      []ModelDescription      `toml:"model"`
	PointLights []PointLightDescription `toml:"point_light"`
}

type CameraDescription struct {
	Position [3]float32 `toml:"position"`
	Rotation [3]float32 `toml:"rotation"`
	FOV      float32    `toml:"fov"`
}

type LightDescription struct {
	Direction [3]float32 `toml:"direction"`
	Color     [3]float32 `toml:"color"`
}

type ModelDescription struct {
	Path     string     `toml:"path"`
	Position [3]float32 `toml:"position"`
	Rotation [3]float32 `toml:"rotation"`
	Scale    [3]float32 `toml:"scale"`
}

type PointLightDescription struct {
	Position  [3]float32 `toml:"position"`
	Color     [3]float32 `toml:"color"`
	Constant  float32    `toml:"constant"`
	Linear    float32    `toml:"linear"`
	Quadratic float32    `toml:"quadratic"`
}

func vec3(v [3]float32) math.Vec3 {
	return math.NewVec3(v[0], v[1], v[2])
}

func radians(v [3]float32) math.Vec3 {
	return math.NewVec3(math.DegToRad(v[0]), math.DegToRad(v[1]), math.DegToRad(v[2]))
}

// LoadDescription decodes the scene file at path.
func LoadDescription(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read scene %s: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}
	desc := &Description{}
	if err := toml.Unmarshal(data, desc); err != nil {
		err = fmt.Errorf("failed to decode scene %s: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}
	for i, m := range desc.Models {
		if m.Path == "" {
			return nil, fmt.Errorf("scene %s: model %d has no path", path, i)
		}
		if !filepath.IsAbs(m.Path) {
			desc.Models[i].Path = filepath.Join(filepath.Dir(path), m.Path)
		}
	}
	return desc, nil
}

// Build creates a scene from desc, importing every model with loader.
// Models that fail to import are skipped.
func (desc *Description) Build(loader MeshLoader) *Scene {
	s := New()
	if sun := desc.Sun; sun != nil {
		dir := vec3(sun.Direction).Normalized()
		s.Directional = DirectionalLight{
			Direction: math.NewVec4(dir.X, dir.Y, dir.Z, 0),
			Color:     math.NewVec4(sun.Color[0], sun.Color[1], sun.Color[2], 1),
		}
	}
	for _, p := range desc.PointLights {
		s.PointLights = append(s.PointLights, PointLight{
			Position:  math.NewVec4(p.Position[0], p.Position[1], p.Position[2], 1),
			Color:     math.NewVec4(p.Color[0], p.Color[1], p.Color[2], 1),
			Constant:  max(p.Constant, 1),
			Linear:    p.Linear,
			Quadratic: p.Quadratic,
		})
	}
	for _, m := range desc.Models {
		transform := math.Transform{
			Position: vec3(m.Position),
			Rotation: radians(m.Rotation),
			Scale:    vec3(m.Scale),
		}
		if n := s.LoadModel(loader, m.Path, transform.Matrix()); n > 0 {
			core.LogInfo("loaded %d meshes from %s", n, m.Path)
		}
	}
	return s
}

// Apply places c at the described pose.
func (cd CameraDescription) Apply(c *Camera) {
	c.SetPosition(vec3(cd.Position))
	c.SetEulerRotation(radians(cd.Rotation))
	if cd.FOV > 0 {
		c.FOV = math.DegToRad(cd.FOV)
	}
}
