package odom

import (
	"log"

	"gonum.org/v1/gonum/mat"
)

const finiteDiffStep = 1e-6

// solverDamping is added to every diagonal entry of J^T J so the normal
// equations stay positive definite when some free correction components are
// not observed by any factor (all-zero Jacobian columns).
const solverDamping = 1e-6

// paramIndex addresses one free scalar of one sample state's correction
// vector inside the flat parameter vector the solver operates on.
type paramIndex struct {
	handle int
	k      int // index into DataCor[0:12]
}

// paramSet assigns a dense column to every correction component touched by
// at least one factor, except the position-correction components (indices
// 3,4,5) of the window's oldest sample state, which are held fixed for
// gauge fixing (spec §4.6).
type paramSet struct {
	index map[paramIndex]int
	order []paramIndex
}

func newParamSet() *paramSet {
	return &paramSet{index: make(map[paramIndex]int)}
}

func (p *paramSet) add(fixedHandle int, handle int) {
	for k := 0; k < 12; k++ {
		if handle == fixedHandle && k >= 3 && k <= 5 {
			continue // gauge-fixed pos_cor on the first sample state
		}
		pi := paramIndex{handle, k}
		if _, ok := p.index[pi]; ok {
			continue
		}
		p.index[pi] = len(p.order)
		p.order = append(p.order, pi)
	}
}

func (p *paramSet) size() int { return len(p.order) }

func (p *paramSet) col(handle, k int) (int, bool) {
	idx, ok := p.index[paramIndex{handle, k}]
	return idx, ok
}

// RunOuterIteration performs one outer iteration of C8 steps 4a-4d: build
// correspondences, assemble factors, solve up to cfg.InnerIterNumMax inner
// Gauss-Newton iterations, then propagate corrections through IMU states,
// surfels, and sample states.
//
// Returns the number of factors built (surfel + IMU); a zero count means
// the outer iteration degenerated (no correspondences) and was a geometry
// no-op — callers still perform window trimming per the error taxonomy's
// "degenerate geometry: recoverable, skip the outer iteration" rule.
func RunOuterIteration(cfg Config, w *Window) (int, error) {
	corrs := MatchSurfels(cfg, w.Surfels())
	surfelFactors := BuildSurfelFactors(w, corrs)
	imuFactors := BuildImuFactors(cfg, w)

	total := len(surfelFactors) + len(imuFactors)
	if total == 0 {
		log.Printf("optimizer: no factors this outer iteration (degenerate geometry), skipping solve")
		return 0, nil
	}

	if len(w.Samples()) == 0 {
		return total, nil
	}
	fixedHandle := w.SampleHandleAt(0)

	params := newParamSet()
	for _, f := range surfelFactors {
		for _, h := range f.ParamHandles() {
			params.add(fixedHandle, h)
		}
	}
	for _, f := range imuFactors {
		for _, h := range f.ParamHandles() {
			params.add(fixedHandle, h)
		}
	}

	for iter := 0; iter < cfg.InnerIterNumMax; iter++ {
		if !solveOneStep(w, params, surfelFactors, imuFactors) {
			break
		}
	}

	if err := UpdateImuPoses(w); err != nil {
		return total, err
	}
	UpdateSurfelPoses(w)
	UpdateSamplePoses(w)

	return total, nil
}

// solveOneStep builds the normal equations J^T J dx = -J^T r at the current
// correction values (Gauss-Newton with solverDamping added to the diagonal,
// numerically differentiated Jacobian) and applies the solved step in place. Returns false when there were no free
// parameters or the system failed to factorize, signalling the inner loop
// should stop early (partial step accepted per the solver non-convergence
// rule in the error taxonomy).
func solveOneStep(w *Window, params *paramSet, surfelFactors []SurfelFactor, imuFactors []ImuFactor) bool {
	p := params.size()
	if p == 0 {
		return false
	}

	jtj := mat.NewSymDense(p, nil)
	jtr := make([]float64, p)

	addRow := func(jrow map[int]float64, residual float64) {
		for ci, vi := range jrow {
			jtr[ci] -= vi * residual
			for cj, vj := range jrow {
				if cj < ci {
					continue
				}
				jtj.SetSym(ci, cj, jtj.At(ci, cj)+vi*vj)
			}
		}
	}

	for _, f := range surfelFactors {
		r0 := f.Residual(w)
		weight := cauchyWeight(r0, surfelCauchyScale) * f.Weight
		row := map[int]float64{}
		for _, h := range f.ParamHandles() {
			s := w.Sample(h)
			for k := 0; k < 12; k++ {
				ci, ok := params.col(h, k)
				if !ok {
					continue
				}
				orig := s.DataCor[k]
				s.DataCor[k] = orig + finiteDiffStep
				r1 := f.Residual(w)
				s.DataCor[k] = orig
				row[ci] = (r1 - r0) / finiteDiffStep * weight
			}
		}
		addRow(row, r0*weight)
	}

	for _, f := range imuFactors {
		r0 := f.Residual(w)
		rows := make([]map[int]float64, 12)
		for i := range rows {
			rows[i] = map[int]float64{}
		}
		for _, h := range f.ParamHandles() {
			s := w.Sample(h)
			for k := 0; k < 12; k++ {
				ci, ok := params.col(h, k)
				if !ok {
					continue
				}
				orig := s.DataCor[k]
				s.DataCor[k] = orig + finiteDiffStep
				r1 := f.Residual(w)
				s.DataCor[k] = orig
				for d := 0; d < 12; d++ {
					rows[d][ci] = (r1[d] - r0[d]) / finiteDiffStep
				}
			}
		}
		for d := 0; d < 12; d++ {
			addRow(rows[d], r0[d])
		}
	}

	for i := 0; i < p; i++ {
		jtj.SetSym(i, i, jtj.At(i, i)+solverDamping)
	}

	var chol mat.Cholesky
	if !chol.Factorize(jtj) {
		log.Printf("optimizer: normal-equations system not positive definite, accepting partial step")
		return false
	}
	dx := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(dx, mat.NewVecDense(p, jtr)); err != nil {
		log.Printf("optimizer: solve failed: %v, accepting partial step", err)
		return false
	}

	for i, pi := range params.order {
		s := w.Sample(pi.handle)
		s.DataCor[pi.k] += dx.AtVec(i)
	}
	return true
}

// UpdateImuPoses spreads sample-state corrections into IMU states (§4.7
// step 4d). Within the interior spanned by the spline (the window's
// interior knots), each IMU pose is perturbed by the interpolated pos_cor/
// rot_cor. IMU states outside that interior are extrapolated by the rigid
// delta rule, walking outward from the nearest already-updated neighbor.
func UpdateImuPoses(w *Window) error {
	samples := w.Samples()
	imus := w.Imus()
	n := len(samples)
	if n < 4 || len(imus) == 0 {
		return nil
	}

	ts := make([]float64, n)
	posCors := make([]Vec3, n)
	rotCors := make([]Vec3, n)
	for i, s := range samples {
		ts[i] = s.T
		posCors[i] = s.PosCor()
		rotCors[i] = s.RotCor()
	}
	posSpline := NewSpline(ts, posCors)
	rotSpline := NewSpline(ts, rotCors)

	newPoses := make([]Rigid3, len(imus))
	corrected := make([]bool, len(imus))
	firstCorrected, lastCorrected := -1, -1

	for i, im := range imus {
		posD, ok1 := posSpline.Interp(im.T)
		rotD, ok2 := rotSpline.Interp(im.T)
		if !ok1 || !ok2 {
			continue
		}
		newPoses[i] = Rigid3{Pos: im.Pos.Add(posD), Rot: ExpSO3(rotD).Mul(im.Rot)}
		corrected[i] = true
		if firstCorrected == -1 {
			firstCorrected = i
		}
		lastCorrected = i
	}
	if firstCorrected == -1 {
		return nil
	}

	for i := firstCorrected - 1; i >= 0; i-- {
		rel := rigidMul(imus[i+1].Pose().Inverse(), newPoses[i+1])
		newPoses[i] = rigidMul(imus[i].Pose(), rel)
		corrected[i] = true
	}
	for i := lastCorrected + 1; i < len(imus); i++ {
		rel := rigidMul(imus[i-1].Pose().Inverse(), newPoses[i-1])
		newPoses[i] = rigidMul(imus[i].Pose(), rel)
		corrected[i] = true
	}

	for i, pose := range newPoses {
		h := w.ImuHandleAt(i)
		im := w.Imu(h)
		im.Pos = pose.Pos
		im.Rot = pose.Rot
	}
	return nil
}

// UpdateSurfelPoses refreshes every window surfel's world-frame center and
// normal from the now-corrected IMU trajectory, without re-fitting.
func UpdateSurfelPoses(w *Window) {
	imus := w.Imus()
	for i := range w.Surfels() {
		h := w.SurfelHandleAt(i)
		s := w.SurfelAt(h)
		pose, ok := imuPoseBracket(imus, s.T)
		if !ok {
			continue
		}
		s.UpdatePose(pose)
	}
}

// UpdateSamplePoses folds each sample state's pending corrections into its
// pose and bias fields, then zeroes the correction vector, matching the
// resolved Open Question that bias corrections are free variables (DESIGN.md).
func UpdateSamplePoses(w *Window) {
	for i := range w.Samples() {
		h := w.SampleHandleAt(i)
		s := w.Sample(h)
		s.Rot = ExpSO3(s.RotCor()).Mul(s.Rot)
		s.Pos = s.Pos.Add(s.PosCor())
		s.Bg = s.Bg.Add(s.BgCor())
		s.Ba = s.Ba.Add(s.BaCor())
		s.DataCor = [12]float64{}
	}
}
