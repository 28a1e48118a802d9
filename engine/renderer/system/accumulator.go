package system

import "github.com/spaghettifunk/lumen/engine/scene"

// Accumulator counts the path traced frames blended into the current image.
// The counter rests at -1 until the first frame, and returns there whenever
// the camera moves while motion vectors are off.
type Accumulator struct {
	frame   int64
	ceiling int64
	prev    scene.CameraSnapshot
	started bool
}

func NewAccumulator(ceiling int64) *Accumulator {
	return &Accumulator{frame: -1, ceiling: ceiling}
}

// Advance applies the reset rule for camera and reports whether this frame
// should be traced. Once the counter would pass the ceiling nothing more is
// accumulated and Advance returns false.
func (a *Accumulator) Advance(camera scene.CameraSnapshot, motionVectors bool) bool {
	if a.started && !motionVectors && camera.Moved(a.prev) {
		a.frame = -1
	}
	a.prev = camera
	a.started = true

	if a.frame+1 > a.ceiling {
		return false
	}
	a.frame++
	return true
}

// Frame is the index of the last accumulated frame, -1 before any.
func (a *Accumulator) Frame() int64 {
	return a.frame
}

func (a *Accumulator) Reset() {
	a.frame = -1
}

// Previous is the camera of the last Advance call.
func (a *Accumulator) Previous() (scene.CameraSnapshot, bool) {
	return a.prev, a.started
}
