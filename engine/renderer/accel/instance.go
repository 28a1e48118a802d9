package accel

import (
	"encoding/binary"
	"math"

	lmath "github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Instance flags, matching the native top-level instance record.
const (
	InstanceTriangleCullDisable uint8 = 1 << iota
	InstanceTriangleFrontCCW
	InstanceForceOpaque
	InstanceForceNoOpaque
)

// Instance places one bottom-level structure in the top-level structure.
type Instance struct {
	Transform lmath.Mat4
	// Blas indexes the structures produced by BuildBlas.
	Blas int
	// CustomIndex is visible to shaders; only the low 24 bits are kept.
	CustomIndex uint32
	Mask        uint8
	HitGroup    uint32
	Flags       uint8
}

// encode writes the 64-byte native instance record: a row-major 3x4
// transform, custom index and mask, hit group offset and flags, and the
// bottom-level structure address.
func (in Instance) encode(dst []byte, blas gpu.DeviceAddress) {
	le := binary.LittleEndian
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			v := in.Transform.Data[col*4+row]
			le.PutUint32(dst[(row*4+col)*4:], math.Float32bits(v))
		}
	}
	le.PutUint32(dst[48:], in.CustomIndex&0xFFFFFF|uint32(in.Mask)<<24)
	le.PutUint32(dst[52:], in.HitGroup&0xFFFFFF|uint32(in.Flags)<<24)
	le.PutUint64(dst[56:], uint64(blas))
}
