package models

import "math"

// Vec3 is a world-space position, direction or velocity.
type Vec3 struct {
	X, Y, Z float32
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Scale(s float32) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Len returns the euclidean length.
func (v Vec3) Len() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Distance returns |v - o|.
func (v Vec3) Distance(o Vec3) float32 { return v.Sub(o).Len() }

// DistanceSq avoids the square root for radius comparisons.
func (v Vec3) DistanceSq(o Vec3) float32 {
	d := v.Sub(o)
	return d.X*d.X + d.Y*d.Y + d.Z*d.Z
}

// Lerp interpolates linearly, t is not clamped.
func (v Vec3) Lerp(o Vec3, t float32) Vec3 {
	return Vec3{
		v.X + (o.X-v.X)*t,
		v.Y + (o.Y-v.Y)*t,
		v.Z + (o.Z-v.Z)*t,
	}
}

// Within reports whether o lies inside the closed ball of radius r around v.
func (v Vec3) Within(o Vec3, r float32) bool {
	return v.DistanceSq(o) <= r*r
}
