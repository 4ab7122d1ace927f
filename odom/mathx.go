// Package odom implements the sliding-window LiDAR-inertial odometry core:
// surfel extraction and matching, a cubic-spline trajectory model, IMU
// pre-integration, and a joint nonlinear least-squares optimizer.
package odom

import "math"

// Vec3 is a 3-vector used for positions, velocities and angular quantities.
type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Neg() Vec3            { return Vec3{-a.X, -a.Y, -a.Z} }

func (a Vec3) Dot(b Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

func (a Vec3) Norm() float64 { return math.Sqrt(a.Dot(a)) }

func (a Vec3) Normalized() Vec3 {
	n := a.Norm()
	if n < 1e-12 {
		return Vec3{}
	}
	return a.Scale(1.0 / n)
}

// Quat is a unit quaternion {W, X, Y, Z} representing an SO(3) rotation.
type Quat struct {
	W float64 `yaml:"w"`
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// IdentityQuat is the no-rotation quaternion.
func IdentityQuat() Quat { return Quat{W: 1} }

func (q Quat) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

func (q Quat) Normalized() Quat {
	n := q.Norm()
	if n < 1e-12 {
		return IdentityQuat()
	}
	inv := 1.0 / n
	return Quat{q.W * inv, q.X * inv, q.Y * inv, q.Z * inv}
}

func (q Quat) Conj() Quat { return Quat{q.W, -q.X, -q.Y, -q.Z} }

// Mul composes rotations: (q*p) applied to a vector rotates by p first, then q.
func (q Quat) Mul(p Quat) Quat {
	return Quat{
		W: q.W*p.W - q.X*p.X - q.Y*p.Y - q.Z*p.Z,
		X: q.W*p.X + q.X*p.W + q.Y*p.Z - q.Z*p.Y,
		Y: q.W*p.Y - q.X*p.Z + q.Y*p.W + q.Z*p.X,
		Z: q.W*p.Z + q.X*p.Y - q.Y*p.X + q.Z*p.W,
	}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	qv := Quat{0, v.X, v.Y, v.Z}
	r := q.Mul(qv).Mul(q.Conj())
	return Vec3{r.X, r.Y, r.Z}
}

// ToRotationMatrix returns the row-major 3x3 rotation matrix equivalent to q.
func (q Quat) ToRotationMatrix() [3][3]float64 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// Slerp spherically interpolates between a and b at t in [0,1], taking the
// short path (flipping sign of b when the dot product is negative).
func Slerp(a, b Quat, t float64) Quat {
	a = a.Normalized()
	b = b.Normalized()
	dot := a.W*b.W + a.X*b.X + a.Y*b.Y + a.Z*b.Z
	if dot < 0 {
		b = Quat{-b.W, -b.X, -b.Y, -b.Z}
		dot = -dot
	}
	if dot > 0.9995 {
		return Quat{
			a.W + (b.W-a.W)*t,
			a.X + (b.X-a.X)*t,
			a.Y + (b.Y-a.Y)*t,
			a.Z + (b.Z-a.Z)*t,
		}.Normalized()
	}
	theta0 := math.Acos(dot)
	theta := theta0 * t
	sinTheta0 := math.Sin(theta0)
	s0 := math.Cos(theta) - dot*math.Sin(theta)/sinTheta0
	s1 := math.Sin(theta) / sinTheta0
	return Quat{
		a.W*s0 + b.W*s1,
		a.X*s0 + b.X*s1,
		a.Y*s0 + b.Y*s1,
		a.Z*s0 + b.Z*s1,
	}.Normalized()
}

// ExpSO3 maps a rotation vector (axis * angle) to a unit quaternion via the
// Rodrigues closed form, with a small-angle Taylor fallback near zero.
func ExpSO3(w Vec3) Quat {
	theta := w.Norm()
	if theta < 1e-8 {
		return Quat{1, w.X * 0.5, w.Y * 0.5, w.Z * 0.5}.Normalized()
	}
	half := theta * 0.5
	s := math.Sin(half) / theta
	return Quat{math.Cos(half), w.X * s, w.Y * s, w.Z * s}
}

// LogSO3 maps a unit quaternion back to its rotation vector.
func LogSO3(q Quat) Vec3 {
	q = q.Normalized()
	if q.W < 0 {
		q = Quat{-q.W, -q.X, -q.Y, -q.Z}
	}
	v := Vec3{q.X, q.Y, q.Z}
	vn := v.Norm()
	if vn < 1e-8 {
		return v.Scale(2)
	}
	angle := 2 * math.Atan2(vn, q.W)
	return v.Scale(angle / vn)
}

// Rigid3 is a rigid body transform: rotate then translate.
type Rigid3 struct {
	Pos Vec3 `yaml:"pos"`
	Rot Quat `yaml:"rot"`
}

// IdentityRigid3 is the no-op transform.
func IdentityRigid3() Rigid3 { return Rigid3{Rot: IdentityQuat()} }

// Apply transforms a point from the local frame into the frame this Rigid3
// maps into.
func (t Rigid3) Apply(p Vec3) Vec3 {
	return t.Rot.Rotate(p).Add(t.Pos)
}

// Compose returns the transform equivalent to applying t first, then other:
// composed.Apply(p) == other.Apply(t.Apply(p)).
func (t Rigid3) Compose(other Rigid3) Rigid3 {
	return Rigid3{
		Pos: other.Rot.Rotate(t.Pos).Add(other.Pos),
		Rot: other.Rot.Mul(t.Rot),
	}
}

// Inverse returns the transform that undoes t.
func (t Rigid3) Inverse() Rigid3 {
	rInv := t.Rot.Conj()
	return Rigid3{
		Pos: rInv.Rotate(t.Pos.Neg()),
		Rot: rInv,
	}
}

// InterpolateRigid3 linearly interpolates position and slerps rotation.
func InterpolateRigid3(a, b Rigid3, t float64) Rigid3 {
	return Rigid3{
		Pos: Vec3{
			a.Pos.X + (b.Pos.X-a.Pos.X)*t,
			a.Pos.Y + (b.Pos.Y-a.Pos.Y)*t,
			a.Pos.Z + (b.Pos.Z-a.Pos.Z)*t,
		},
		Rot: Slerp(a.Rot, b.Rot, t),
	}
}

// rigidMul returns the transform equivalent to applying b first, then a —
// the standard SE(3) matrix-multiplication convention (a*b), as opposed to
// Rigid3.Compose's function-composition convention (t.Compose(other) applies
// t first). Used by the correction-propagation rigid-delta rule (§4.7 step
// 4d), grounded on mesh/transform.go's MultiplyMatrices.
func rigidMul(a, b Rigid3) Rigid3 {
	return Rigid3{
		Pos: a.Rot.Rotate(b.Pos).Add(a.Pos),
		Rot: a.Rot.Mul(b.Rot),
	}
}

// Skew returns the 3x3 skew-symmetric cross-product matrix of v.
func Skew(v Vec3) [3][3]float64 {
	return [3][3]float64{
		{0, -v.Z, v.Y},
		{v.Z, 0, -v.X},
		{-v.Y, v.X, 0},
	}
}
