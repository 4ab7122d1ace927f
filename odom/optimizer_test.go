package odom

import "testing"

func TestParamSet_GaugeFixesFirstSamplePosCor(t *testing.T) {
	w := NewWindow()
	h0 := w.AppendSample(SampleState{T: 0, Rot: IdentityQuat()})
	h1 := w.AppendSample(SampleState{T: 0.1, Rot: IdentityQuat()})

	params := newParamSet()
	params.add(h0, h0)
	params.add(h0, h1)

	for k := 3; k <= 5; k++ {
		if _, ok := params.col(h0, k); ok {
			t.Errorf("pos_cor component %d of the fixed (oldest) sample must not be a free parameter", k)
		}
	}
	for k := 0; k < 12; k++ {
		if _, ok := params.col(h1, k); !ok {
			t.Errorf("component %d of the non-fixed sample should be free", k)
		}
	}
	// first sample keeps its rotation/bias corrections free; only pos_cor is gauged.
	for _, k := range []int{0, 1, 2, 6, 7, 8, 9, 10, 11} {
		if _, ok := params.col(h0, k); !ok {
			t.Errorf("non-position component %d of the fixed sample should remain free", k)
		}
	}
}

func TestRunOuterIteration_NoFactorsIsNoopNotError(t *testing.T) {
	cfg := testConfig()
	w := NewWindow()
	w.AppendSample(SampleState{T: 0, Rot: IdentityQuat()})

	n, err := RunOuterIteration(cfg, w)
	if err != nil {
		t.Fatalf("unexpected error on empty geometry: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 factors built, got %d", n)
	}
}

func TestRunOuterIteration_ReducesSurfelResidual(t *testing.T) {
	cfg := testConfig()
	w := NewWindow()
	for _, tt := range []float64{0.0, 0.1, 0.2} {
		w.AppendSample(SampleState{T: tt, Rot: IdentityQuat()})
	}
	for _, tt := range []float64{0.0, 0.05, 0.1, 0.15, 0.2} {
		w.AppendImu(ImuState{T: tt, Rot: IdentityQuat()})
	}

	// Two surfels on the same plane but offset along the normal by a small
	// gap, forcing a non-zero point-to-plane residual the solver should
	// shrink.
	h1 := w.AppendSurfel(Surfel{T: 0.05, CenterLocal: Vec3{0, 0, 0}, NormalLocal: Vec3{0, 0, 1}, CenterWorld: Vec3{0, 0, 0}, NormalWorld: Vec3{0, 0, 1}})
	h2 := w.AppendSurfel(Surfel{T: 0.15, CenterLocal: Vec3{0, 0, 0.02}, NormalLocal: Vec3{0, 0, 1}, CenterWorld: Vec3{0, 0, 0.02}, NormalWorld: Vec3{0, 0, 1}})

	corrs := []Correspondence{{S1: h1, S2: h2, Weight: 1}}
	factorsBefore := BuildSurfelFactors(w, corrs)
	if len(factorsBefore) != 1 {
		t.Fatalf("expected 1 surfel factor, got %d", len(factorsBefore))
	}
	before := factorsBefore[0].Residual(w)

	if _, err := RunOuterIteration(cfg, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	factorsAfter := BuildSurfelFactors(w, corrs)
	after := factorsAfter[0].Residual(w)

	if !(abs(after) < abs(before)) {
		t.Errorf("expected residual to shrink: before=%v after=%v", before, after)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
