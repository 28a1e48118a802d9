package scene

import (
	"github.com/spaghettifunk/lumen/engine/math"
)

/**
 * @brief A free-flying perspective camera. The view matrix is rebuilt
 * lazily after the position or rotation changes.
 */
type Camera struct {
	/** @brief The position of this camera. */
	Position math.Vec3
	/** @brief Euler rotation (pitch, yaw, roll) in radians. */
	EulerRotation math.Vec3
	/** @brief Vertical field of view in radians. */
	FOV  float32
	Near float32
	Far  float32

	dirty bool
	view  math.Mat4
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.Position = math.Vec3{}
	c.EulerRotation = math.Vec3{}
	c.FOV = math.DegToRad(60)
	c.Near = 0.1
	c.Far = 1000
	c.view = math.NewMat4Identity()
	c.dirty = false
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.dirty = true
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.dirty = true
}

func (c *Camera) View() math.Mat4 {
	if c.dirty {
		rotation := math.NewMat4EulerXYZ(c.EulerRotation.X, c.EulerRotation.Y, c.EulerRotation.Z)
		translation := math.NewMat4Translation(c.Position)
		c.view = translation.Mul(rotation).Inverse()
		c.dirty = false
	}
	return c.view
}

func (c *Camera) Forward() math.Vec3 {
	return c.View().Forward()
}

func (c *Camera) Right() math.Vec3 {
	return c.View().Right()
}

func (c *Camera) MoveForward(amount float32) {
	c.SetPosition(c.Position.Add(c.Forward().MulScalar(amount)))
}

func (c *Camera) MoveRight(amount float32) {
	c.SetPosition(c.Position.Add(c.Right().MulScalar(amount)))
}

func (c *Camera) MoveUp(amount float32) {
	c.SetPosition(c.Position.Add(math.NewVec3Up().MulScalar(amount)))
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation.Y += amount
	c.dirty = true
}

func (c *Camera) Pitch(amount float32) {
	// Clamp to avoid gimbal lock.
	limit := math.DegToRad(89)
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X+amount, -limit, limit)
	c.dirty = true
}

// Snapshot captures the camera state for one frame.
func (c *Camera) Snapshot(aspect float32) CameraSnapshot {
	return CameraSnapshot{
		Position:   c.Position,
		View:       c.View(),
		Projection: math.NewMat4Perspective(c.FOV, aspect, c.Near, c.Far),
		FOV:        c.FOV,
	}
}

// CameraSnapshot is the per-frame camera pose handed to the renderer.
type CameraSnapshot struct {
	Position   math.Vec3
	View       math.Mat4
	Projection math.Mat4
	FOV        float32
}

// Moved reports whether the view, field of view or position differ from
// prev bit for bit.
func (s CameraSnapshot) Moved(prev CameraSnapshot) bool {
	return s.View != prev.View || s.FOV != prev.FOV || s.Position != prev.Position
}

// Toggles are the discrete switches driven by the input layer.
type Toggles struct {
	DebugUI       bool
	Defocus       bool
	MotionVectors bool
}
