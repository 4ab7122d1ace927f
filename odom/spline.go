package odom

// Spline is a uniform-knot cubic B-spline over scattered vector-valued
// samples. It is rebuilt from the current sample-state queue on every outer
// iteration (see optimizer.go) rather than kept incrementally, since the
// sample set itself changes shape (new knots appended, old ones trimmed)
// every processed scan.
type Spline struct {
	t []float64
	v []Vec3
}

// NewSpline builds a spline over times t and control values v; both slices
// must have equal, matching length and t must be strictly increasing. The
// slices are not copied defensively: callers must not mutate them afterward,
// matching the sweep/window ownership rule that these are short-lived views
// owned by the calling outer iteration.
func NewSpline(t []float64, v []Vec3) *Spline {
	return &Spline{t: t, v: v}
}

// cubicBasis evaluates the four uniform cubic B-spline basis weights for a
// local parameter u in [0,1), in the order applying to knots i-1, i, i+1, i+2.
func cubicBasis(u float64) [4]float64 {
	u2 := u * u
	u3 := u2 * u
	return [4]float64{
		(1 - 3*u + 3*u2 - u3) / 6,
		(4 - 6*u2 + 3*u3) / 6,
		(1 + 3*u + 3*u2 - 3*u3) / 6,
		u3 / 6,
	}
}

// Interp returns v(t) when t lies in the interior [t_1, t_{n-2}] where all
// four basis functions are defined, and false otherwise ("no value", not a
// failure — see Design Notes on interpolation-failure signalling).
func (s *Spline) Interp(t float64) (Vec3, bool) {
	n := len(s.t)
	if n < 4 {
		return Vec3{}, false
	}
	if t < s.t[1] || t > s.t[n-2] {
		return Vec3{}, false
	}

	// Locate the segment [i, i+1) containing t via the knot immediately at
	// or before it; knots are uniform so this is a linear scan over a small
	// window-sized slice rather than a binary search, matching how the rest
	// of the package favors simple scans over scattered-sample indices.
	i := 1
	for i < n-3 && s.t[i+1] <= t {
		i++
	}
	segLen := s.t[i+1] - s.t[i]
	if segLen <= 0 {
		return Vec3{}, false
	}
	u := (t - s.t[i]) / segLen
	w := cubicBasis(u)

	p0, p1, p2, p3 := s.v[i-1], s.v[i], s.v[i+1], s.v[i+2]
	return Vec3{
		X: w[0]*p0.X + w[1]*p1.X + w[2]*p2.X + w[3]*p3.X,
		Y: w[0]*p0.Y + w[1]*p1.Y + w[2]*p2.Y + w[3]*p3.Y,
		Z: w[0]*p0.Z + w[1]*p1.Z + w[2]*p2.Z + w[3]*p3.Z,
	}, true
}

