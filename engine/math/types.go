package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

// Mat4 is a column-major 4x4 matrix; Data[12..14] hold the translation.
type Mat4 struct {
	Data [16]float32
}

// Transform is a position/rotation/scale triple. Rotation is Euler angles in radians.
type Transform struct {
	Position Vec3
	Rotation Vec3
	Scale    Vec3
}
