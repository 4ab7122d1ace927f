package odom

import "math"

// SurfelFactorVariant selects which sample-state knots a surfel binary
// factor touches, per the relative order of the two correspondence
// surfels' bracketing knots (spec §4.6). This is a closed tagged family,
// dispatched on Variant at build time rather than via an open type
// hierarchy (Design Notes).
type SurfelFactorVariant int

const (
	SurfelVariantDisjoint    SurfelFactorVariant = iota // sp1r.t < sp2l.t: 4 blocks
	SurfelVariantTouching                               // sp1r.t == sp2l.t: 3 blocks
	SurfelVariantOverlapping                             // sp1l==sp2l, sp1r==sp2r: 2 blocks
)

// SurfelFactor is a binary surfel-to-surfel point-to-plane residual.
type SurfelFactor struct {
	Variant  SurfelFactorVariant
	Surfel1  int // surfel arena handle, s1.T < s2.T
	Surfel2  int
	Sp1L, Sp1R int // sample handles bracketing s1.T
	Sp2L, Sp2R int // sample handles bracketing s2.T
	Weight   float64
}

// ParamHandles returns the distinct sample-state handles this factor
// touches, in the order of the spec's parameter-block table.
func (f SurfelFactor) ParamHandles() []int {
	switch f.Variant {
	case SurfelVariantDisjoint:
		return []int{f.Sp1L, f.Sp1R, f.Sp2L, f.Sp2R}
	case SurfelVariantTouching:
		return []int{f.Sp1L, f.Sp1R, f.Sp2R}
	default:
		return []int{f.Sp1L, f.Sp1R}
	}
}

// correctedPose returns a sample state's pose with its current rot_cor/
// pos_cor correction folded in (the transient perturbation used during
// solving, baked into Pos/Rot only at the end of the outer iteration by
// UpdateSamplePoses).
func correctedPose(s SampleState) Rigid3 {
	return Rigid3{
		Pos: s.Pos.Add(s.PosCor()),
		Rot: ExpSO3(s.RotCor()).Mul(s.Rot),
	}
}

// reposedCenterNormal interpolates the corrected poses of the bracketing
// knots (l, r) at the surfel's own timestamp and reposes the surfel's local
// center/normal through the interpolated pose.
func reposedCenterNormal(s Surfel, l, r SampleState) (center, normal Vec3) {
	span := r.T - l.T
	var u float64
	if span > 0 {
		u = (s.T - l.T) / span
	}
	pose := InterpolateRigid3(correctedPose(l), correctedPose(r), u)
	return pose.Apply(s.CenterLocal), pose.Rot.Rotate(s.NormalLocal).Normalized()
}

// Residual evaluates the point-to-plane distance between the factor's two
// surfels under the current (uncommitted) sample corrections.
func (f SurfelFactor) Residual(w *Window) float64 {
	s1 := *w.SurfelAt(f.Surfel1)
	s2 := *w.SurfelAt(f.Surfel2)

	sp1l, sp1r := *w.Sample(f.Sp1L), *w.Sample(f.Sp1R)
	sp2l, sp2r := *w.Sample(f.Sp2L), *w.Sample(f.Sp2R)

	c1, _ := reposedCenterNormal(s1, sp1l, sp1r)
	c2, n2 := reposedCenterNormal(s2, sp2l, sp2r)
	return n2.Dot(c1.Sub(c2))
}

// cauchyWeight returns the Cauchy robust-loss down-weighting factor
// sqrt(1 / (1 + (r/scale)^2)) applied to a residual row and
// its Jacobian row, reproducing Ceres's CauchyLoss(scale) effect without a
// dedicated loss-function abstraction (no pack library provides one).
func cauchyWeight(residual, scale float64) float64 {
	if residual == 0 {
		return 1
	}
	rs := residual / scale
	rho2 := 1.0 / (1.0 + rs*rs)
	// Use sqrt of the IRLS weight so that squaring it in the normal
	// equations reproduces Ceres's scaled-residual/Jacobian convention.
	return math.Sqrt(rho2)
}

const surfelCauchyScale = 0.4

// ImuFactorVariant selects whether the factor's sample-state attachment
// includes a third knot (normal case) or only two (i1 sits in the window's
// final sample segment, per spec §4.6).
type ImuFactorVariant int

const (
	ImuVariantTriple ImuFactorVariant = iota // sp1, sp2, sp3
	ImuVariantPair                           // sp1, sp2 only
)

// ImuFactor is a pre-integration-style consistency residual over three
// consecutive IMU states, penalizing how much the current bias/gravity
// estimate disagrees with the already-propagated (fixed) trajectory
// segment i1->i2->i3.
type ImuFactor struct {
	Variant ImuFactorVariant
	I1, I2, I3 ImuState // snapshotted at build time; fixed during the solve
	Sp1, Sp2   int      // sample handles; bg/ba live here
	Sp3        int      // present only when Variant == ImuVariantTriple

	Dt        float64
	Grav      Vec3 // from the window's latest sample state; not a free variable
	GyroNoiseW, AccNoiseW float64
	GyroWalkW, AccWalkW   float64
}

func (f ImuFactor) ParamHandles() []int {
	if f.Variant == ImuVariantTriple {
		return []int{f.Sp1, f.Sp2, f.Sp3}
	}
	return []int{f.Sp1, f.Sp2}
}

// Residual returns the 12-dim (gyro, acc, gyro_bias, acc_bias) residual
// vector, each weighted by its configured cost weight.
func (f ImuFactor) Residual(w *Window) [12]float64 {
	sp1 := *w.Sample(f.Sp1)
	sp2 := *w.Sample(f.Sp2)

	bg := sp1.Bg.Add(sp1.BgCor())
	ba := sp1.Ba.Add(sp1.BaCor())

	gyrMid := f.I1.Gyr.Add(f.I2.Gyr).Scale(0.5).Sub(bg)
	predictedDRot := ExpSO3(gyrMid.Scale(f.Dt))
	actualDRot := f.I1.Rot.Conj().Mul(f.I2.Rot)
	gyroResid := LogSO3(predictedDRot.Conj().Mul(actualDRot))

	predictedPos3 := f.I1.Rot.Rotate(f.I1.Acc.Sub(ba)).Add(f.Grav).Scale(f.Dt * f.Dt).
		Add(f.I2.Pos.Scale(2)).Sub(f.I1.Pos)
	accResid := predictedPos3.Sub(f.I3.Pos)

	bg2 := sp2.Bg.Add(sp2.BgCor())
	ba2 := sp2.Ba.Add(sp2.BaCor())
	gyroBiasResid := bg2.Sub(bg)
	accBiasResid := ba2.Sub(ba)

	var out [12]float64
	out[0], out[1], out[2] = gyroResid.X*f.GyroNoiseW, gyroResid.Y*f.GyroNoiseW, gyroResid.Z*f.GyroNoiseW
	out[3], out[4], out[5] = accResid.X*f.AccNoiseW, accResid.Y*f.AccNoiseW, accResid.Z*f.AccNoiseW
	out[6], out[7], out[8] = gyroBiasResid.X*f.GyroWalkW, gyroBiasResid.Y*f.GyroWalkW, gyroBiasResid.Z*f.GyroWalkW
	out[9], out[10], out[11] = accBiasResid.X*f.AccWalkW, accBiasResid.Y*f.AccWalkW, accBiasResid.Z*f.AccWalkW
	return out
}

// sampleUpperBound returns the index of the first sample whose T is
// strictly greater than t (the C++ std::upper_bound used by the original
// factor-assembly routine), or len(samples) if none.
func sampleUpperBound(samples []SampleState, t float64) int {
	lo, hi := 0, len(samples)
	for lo < hi {
		mid := (lo + hi) / 2
		if samples[mid].T <= t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// BuildSurfelFactors assembles the surfel binary factors for a batch of
// correspondences (C7). A correspondence is silently skipped when either
// surfel's timestamp brackets to the window boundary (degenerate bracket),
// matching the original's unresolved "todo kk" silent-continue (Open
// Questions).
func BuildSurfelFactors(w *Window, corrs []Correspondence) []SurfelFactor {
	samples := w.Samples()
	if len(samples) < 2 {
		return nil
	}

	factors := make([]SurfelFactor, 0, len(corrs))
	for _, c := range corrs {
		// c.S1/c.S2 are indices into the surfel slice MatchSurfels was given
		// (w.Surfels(), per RunOuterIteration), not arena handles; convert
		// before using them with SurfelAt or storing them on the factor.
		h1 := w.SurfelHandleAt(c.S1)
		h2 := w.SurfelHandleAt(c.S2)
		s1 := w.SurfelAt(h1)
		s2 := w.SurfelAt(h2)

		hi1 := sampleUpperBound(samples, s1.T)
		hi2 := sampleUpperBound(samples, s2.T)
		if hi1 == 0 || hi1 == len(samples) || hi2 == 0 || hi2 == len(samples) {
			continue
		}
		lo1, lo2 := hi1-1, hi2-1

		sp1l := w.SampleHandleAt(lo1)
		sp1r := w.SampleHandleAt(hi1)
		sp2l := w.SampleHandleAt(lo2)
		sp2r := w.SampleHandleAt(hi2)

		var variant SurfelFactorVariant
		switch {
		case samples[hi1].T < samples[lo2].T:
			variant = SurfelVariantDisjoint
		case samples[hi1].T == samples[lo2].T:
			variant = SurfelVariantTouching
		default:
			variant = SurfelVariantOverlapping
		}

		factors = append(factors, SurfelFactor{
			Variant: variant,
			Surfel1: h1,
			Surfel2: h2,
			Sp1L:    sp1l,
			Sp1R:    sp1r,
			Sp2L:    sp2l,
			Sp2R:    sp2r,
			Weight:  c.Weight,
		})
	}
	return factors
}

// BuildImuFactors assembles the IMU triple factors (C7) for every
// consecutive IMU-state triple fully inside the sample-state span.
func BuildImuFactors(cfg Config, w *Window) []ImuFactor {
	samples := w.Samples()
	imus := w.Imus()
	if len(samples) < 2 || len(imus) < 3 {
		return nil
	}
	grav := samples[len(samples)-1].Grav
	dt := cfg.ImuDt()

	var factors []ImuFactor
	for i := 0; i+2 < len(imus); i++ {
		i1, i2, i3 := imus[i], imus[i+1], imus[i+2]
		if i1.T < samples[0].T {
			continue
		}
		if i3.T > samples[len(samples)-1].T {
			break
		}
		hi := sampleUpperBound(samples, i1.T)
		if hi == 0 || hi == len(samples) {
			continue
		}
		lo := hi - 1
		sp1 := w.SampleHandleAt(lo)
		sp2 := w.SampleHandleAt(hi)

		base := ImuFactor{
			I1: i1, I2: i2, I3: i3,
			Sp1: sp1, Sp2: sp2,
			Dt:   dt,
			Grav: grav,
			GyroNoiseW: cfg.GyroscopeNoiseDensityCostWeight,
			AccNoiseW:  cfg.AccelerometerNoiseDensityCostWeight,
			GyroWalkW:  cfg.GyroscopeRandomWalkCostWeight,
			AccWalkW:   cfg.AccelerometerRandomWalkCostWeight,
		}
		if hi == len(samples)-1 {
			base.Variant = ImuVariantPair
		} else {
			base.Variant = ImuVariantTriple
			base.Sp3 = w.SampleHandleAt(hi + 1)
		}
		factors = append(factors, base)
	}
	return factors
}
