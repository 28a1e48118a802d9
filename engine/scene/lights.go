package scene

import (
	"encoding/binary"

	"github.com/spaghettifunk/lumen/engine/math"
)

// MaxPointLightsPerFrame is the size of the point light array in the
// lighting uniform.
const MaxPointLightsPerFrame = 16

type DirectionalLight struct {
	Direction math.Vec4
	Color     math.Vec4
}

func DefaultDirectionalLight() DirectionalLight {
	return DirectionalLight{
		Direction: math.NewVec4(-0.57735, -0.57735, -0.57735, 0),
		Color:     math.NewVec4(0.8, 0.8, 0.8, 1),
	}
}

type PointLight struct {
	Position math.Vec4
	Color    math.Vec4
	// Attenuation factors of 1/(constant + linear*d + quadratic*d*d).
	Constant  float32
	Linear    float32
	Quadratic float32
	_         float32
}

// Lighting mirrors the lighting uniform block.
type Lighting struct {
	Directional DirectionalLight
	PointCount  uint32
	_           [3]uint32
	Points      [MaxPointLightsPerFrame]PointLight
}

// BuildLighting fills one point light slot per light, in order, up to
// MaxPointLightsPerFrame. Extra lights are dropped.
func BuildLighting(directional DirectionalLight, points []PointLight) Lighting {
	l := Lighting{Directional: directional}
	for _, p := range points {
		if l.PointCount == MaxPointLightsPerFrame {
			break
		}
		l.Points[l.PointCount] = p
		l.PointCount++
	}
	return l
}

// LightingSize is the std140 size of the lighting uniform block.
var LightingSize = uint64(binary.Size(Lighting{}))

func (l Lighting) Bytes() []byte {
	out, _ := binary.Append(nil, binary.LittleEndian, l)
	return out
}
