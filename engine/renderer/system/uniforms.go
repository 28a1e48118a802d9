package system

import (
	"encoding/binary"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/scene"
)

// UniformOffset is where frame's camera and lighting block starts inside the
// shared uniform buffer. Each frame owns one region padded to minAlign.
func UniformOffset(frame int, cameraSize, lightingSize, minAlign uint64) uint64 {
	return uint64(frame) * UniformStride(cameraSize, lightingSize, minAlign)
}

func UniformStride(cameraSize, lightingSize, minAlign uint64) uint64 {
	return math.AlignUp(cameraSize+lightingSize, minAlign)
}

// sceneBlockSize is the camera uniform followed by the lighting block.
var sceneBlockSize = scene.CameraSize + scene.LightingSize

const (
	rayFlagMotionVectors uint32 = 1 << iota
	rayFlagDefocus
	rayFlagDebug
)

// RayPushConstants are pushed to every ray tracing stage before the trace.
type RayPushConstants struct {
	// Frame is the accumulation counter, 0 on the first frame after a reset.
	Frame      int32
	Flags      uint32
	MaxBounces uint32
	_          uint32
}

func (p RayPushConstants) Bytes() []byte {
	out, _ := binary.Append(nil, binary.LittleEndian, p)
	return out
}

type lightingPush struct {
	Shadows    uint32
	PointCount uint32
	_          [2]uint32
}

type postPush struct {
	FXAA        uint32
	Accumulated int32
	InvWidth    float32
	InvHeight   float32
}

type overlayPush struct {
	Atlas  int32
	_      int32
	Width  float32
	Height float32
}

func pushBytes(v interface{}) []byte {
	out, _ := binary.Append(nil, binary.LittleEndian, v)
	return out
}

func boolFlag(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
