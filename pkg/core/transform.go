package core

import "math"

// Location is a point in world coordinates, in metres.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation holds Euler angles in degrees.
type Rotation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Transform places an actor in the world.
type Transform struct {
	Location Location `json:"location"`
	Rotation Rotation `json:"rotation"`
}

// Vector3D is a free vector, used for velocities.
type Vector3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Length returns the Euclidean norm.
func (v Vector3D) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Pose is the planar vehicle pose recorded alongside every camera frame.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Pose projects the transform onto the recorded (x, y, yaw) triple.
func (t Transform) Pose() Pose {
	return Pose{X: t.Location.X, Y: t.Location.Y, Yaw: t.Rotation.Yaw}
}
