package scene

import (
	"encoding/binary"

	"github.com/spaghettifunk/lumen/engine/math"
)

// CameraUniform mirrors the camera uniform block read by every pass.
type CameraUniform struct {
	View           math.Mat4
	Projection     math.Mat4
	ViewProjection math.Mat4
	InverseView    math.Mat4
	InverseProj    math.Mat4
	// PrevViewProjection feeds motion vector reprojection.
	PrevViewProjection math.Mat4
	Position           math.Vec4
	FOV                float32
	_                  [3]float32
}

var CameraSize = uint64(binary.Size(CameraUniform{}))

func NewCameraUniform(cur, prev CameraSnapshot) CameraUniform {
	return CameraUniform{
		View:               cur.View,
		Projection:         cur.Projection,
		ViewProjection:     cur.Projection.Mul(cur.View),
		InverseView:        cur.View.Inverse(),
		InverseProj:        cur.Projection.Inverse(),
		PrevViewProjection: prev.Projection.Mul(prev.View),
		Position:           cur.Position.ToVec4(1),
		FOV:                cur.FOV,
	}
}

func (c CameraUniform) Bytes() []byte {
	out, _ := binary.Append(nil, binary.LittleEndian, c)
	return out
}

// ObjectData is one entry of the per-frame object storage buffer.
type ObjectData struct {
	Model         math.Mat4
	Emissive      math.Vec4
	MaterialIndex int32
	DiffuseIndex  int32
	NormalIndex   int32
	_             int32
}

const ObjectDataSize = 96

func NewObjectData(o *RenderObject) ObjectData {
	d := ObjectData{
		Model:         o.Transform,
		Emissive:      o.Mesh.Data.Emissive,
		MaterialIndex: -1,
		DiffuseIndex:  NoTexture,
		NormalIndex:   NoTexture,
	}
	if o.Material != nil {
		d.MaterialIndex = int32(o.Material.ID)
		d.DiffuseIndex = int32(o.Material.DiffuseIndex)
		d.NormalIndex = int32(o.Material.NormalIndex)
	}
	return d
}

// EncodeObjects packs objects in order into ObjectDataSize records.
func EncodeObjects(objects []*RenderObject) []byte {
	data := make([]ObjectData, len(objects))
	for i, o := range objects {
		data[i] = NewObjectData(o)
	}
	out, _ := binary.Append(make([]byte, 0, len(objects)*ObjectDataSize), binary.LittleEndian, data)
	return out
}
