package odom

import "testing"

func testConfig() Config {
	return Config{
		ImuRate:               200,
		SampleDt:              0.1,
		SweepDuration:         0.1,
		SlidingWindowDuration: 2.0,
		MinRange:              0.3,
		MaxRange:              60.0,
		BlindBoundingBox:      BoundingBox{MinX: -0.2, MaxX: 0.2, MinY: -0.2, MaxY: 0.2, MinZ: -0.2, MaxZ: 0.2},
		ExtLidar2Imu:          IdentityRigid3(),
		GravityNorm:           9.81,
		GyroscopeNoiseDensityCostWeight:     1,
		AccelerometerNoiseDensityCostWeight: 1,
		GyroscopeRandomWalkCostWeight:       1,
		AccelerometerRandomWalkCostWeight:   1,
		OuterIterNumMax:    3,
		InnerIterNumMax:    10,
		MinPointsPerVoxel:  6,
		VoxelSize:          0.5,
		PlanarityThreshold: 0.05,
		KnnK:               5,
		RMatch:             1.0,
		NormalAgreementCos: 0.8660254,
		PointPlaneDistMax:  0.1,
	}
}

func TestBuildSweep_EmptyWhenEndtimeEarlierThanAll(t *testing.T) {
	cfg := testConfig()
	buf := []LidarPoint{{XYZ: Vec3{1, 0, 0}, T: 1.0}, {XYZ: Vec3{2, 0, 0}, T: 1.1}}

	sweep, rest, err := BuildSweep(cfg, buf, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sweep) != 0 {
		t.Errorf("expected empty sweep, got %d points", len(sweep))
	}
	if len(rest) != len(buf) {
		t.Errorf("buffer should be unchanged, got %d points, want %d", len(rest), len(buf))
	}
}

func TestBuildSweep_FiltersRangeAndBlindBox(t *testing.T) {
	cfg := testConfig()
	buf := []LidarPoint{
		{XYZ: Vec3{0.1, 0, 0}, T: 0.01},  // inside blind box -> dropped
		{XYZ: Vec3{0.2, 0, 0}, T: 0.02},  // too close (< min_range) -> dropped
		{XYZ: Vec3{5, 0, 0}, T: 0.03},    // kept
		{XYZ: Vec3{100, 0, 0}, T: 0.04},  // too far -> dropped
	}

	sweep, rest, err := BuildSweep(cfg, buf, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sweep) != 1 {
		t.Fatalf("expected 1 surviving point, got %d", len(sweep))
	}
	approxVec(t, sweep[0].XYZ, Vec3{5, 0, 0}, eps, "surviving point")
	if len(rest) != 0 {
		t.Errorf("expected drained buffer, got %d remaining", len(rest))
	}
}

func TestBuildSweep_RejectsNonMonotoneBuffer(t *testing.T) {
	cfg := testConfig()
	buf := []LidarPoint{{T: 0.2}, {T: 0.1}}
	_, _, err := BuildSweep(cfg, buf, 1.0)
	if err == nil {
		t.Fatal("expected contract violation for non-monotone buffer")
	}
}

func TestUndistortSweep_IdentityTrajectoryIsIdentity(t *testing.T) {
	imus := []ImuState{
		{T: 0.0, Pos: Vec3{}, Rot: IdentityQuat()},
		{T: 0.1, Pos: Vec3{}, Rot: IdentityQuat()},
		{T: 0.2, Pos: Vec3{}, Rot: IdentityQuat()},
	}
	sweep := []LidarPoint{{XYZ: Vec3{1, 2, 3}, T: 0.05}, {XYZ: Vec3{4, 5, 6}, T: 0.15}}

	out, err := UndistortSweep(sweep, imus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range sweep {
		approxVec(t, out[i].XYZ, sweep[i].XYZ, 1e-9, "identity trajectory undistortion")
	}
}

func TestUndistortSweep_BracketMissing(t *testing.T) {
	imus := []ImuState{{T: 0.0, Rot: IdentityQuat()}, {T: 0.1, Rot: IdentityQuat()}}
	sweep := []LidarPoint{{XYZ: Vec3{1, 0, 0}, T: 5.0}}

	if _, err := UndistortSweep(sweep, imus); err != ErrBracketMissing {
		t.Errorf("expected ErrBracketMissing, got %v", err)
	}
}
