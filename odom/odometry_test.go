package odom

import "testing"

func stationaryConfig() Config {
	cfg := testConfig()
	cfg.ImuRate = 100
	cfg.SampleDt = 0.1
	cfg.SweepDuration = 0.1
	cfg.SlidingWindowDuration = 1.0
	cfg.OuterIterNumMax = 1
	cfg.InnerIterNumMax = 3
	cfg.MinPointsPerVoxel = 4
	cfg.VoxelSize = 0.5
	return cfg
}

func flatPlaneScan(t0 float64) []LidarPoint {
	var pts []LidarPoint
	i := 0
	for x := -1.0; x <= 1.0; x += 0.2 {
		for y := -1.0; y <= 1.0; y += 0.2 {
			pts = append(pts, LidarPoint{XYZ: Vec3{X: x, Y: y, Z: 5}, T: t0 + float64(i)*1e-5})
			i++
		}
	}
	return pts
}

func TestOdometry_LidarBeforeImu_NoEffect(t *testing.T) {
	o := NewOdometry(stationaryConfig(), nil, nil, nil)
	if err := o.AddLidarScan(flatPlaneScan(0.05)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Window().NumSamples() != 0 {
		t.Errorf("expected no window state before any imu data, got %d samples", o.Window().NumSamples())
	}
}

func TestOdometry_StationaryRig_RunsWithoutError(t *testing.T) {
	cfg := stationaryConfig()
	o := NewOdometry(cfg, nil, nil, nil)

	dt := cfg.ImuDt()
	for i := 0; i < 30; i++ {
		m := ImuMeasurement{T: float64(i) * dt, Acc: Vec3{0, 0, cfg.GravityNorm}}
		if err := o.AddImuData(m); err != nil {
			t.Fatalf("AddImuData error: %v", err)
		}
	}

	for s := 0; s < 3; s++ {
		if err := o.AddLidarScan(flatPlaneScan(float64(s) * cfg.SweepDuration)); err != nil {
			t.Fatalf("AddLidarScan error on scan %d: %v", s, err)
		}
	}

	if o.Window().NumSamples() == 0 {
		t.Error("expected sample states to accumulate")
	}
}

func TestOdometry_GaugeFixing_FirstSamplePositionUnchangedBySolve(t *testing.T) {
	cfg := stationaryConfig()
	o := NewOdometry(cfg, nil, nil, nil)

	dt := cfg.ImuDt()
	for i := 0; i < 40; i++ {
		m := ImuMeasurement{T: float64(i) * dt, Acc: Vec3{0, 0, cfg.GravityNorm}}
		if err := o.AddImuData(m); err != nil {
			t.Fatalf("AddImuData error: %v", err)
		}
	}
	for s := 0; s < 3; s++ {
		if err := o.AddLidarScan(flatPlaneScan(float64(s) * cfg.SweepDuration)); err != nil {
			t.Fatalf("AddLidarScan error on scan %d: %v", s, err)
		}
	}

	samples := o.Window().Samples()
	if len(samples) == 0 {
		t.Fatal("expected accumulated sample states")
	}
	first := samples[0]
	approxVec(t, first.Pos, Vec3{0, 0, 0}, 1e-6, "gauge-fixed first sample position")
}

type recordingTransformSink struct {
	stamps []float64
}

func (r *recordingTransformSink) PublishTransform(stamp float64, pose Rigid3) {
	r.stamps = append(r.stamps, stamp)
}

func TestOdometry_PublishesTransformOnEachScan(t *testing.T) {
	cfg := stationaryConfig()
	sink := &recordingTransformSink{}
	o := NewOdometry(cfg, nil, nil, sink)

	dt := cfg.ImuDt()
	for i := 0; i < 30; i++ {
		o.AddImuData(ImuMeasurement{T: float64(i) * dt, Acc: Vec3{0, 0, cfg.GravityNorm}})
	}
	for s := 0; s < 2; s++ {
		if err := o.AddLidarScan(flatPlaneScan(float64(s) * cfg.SweepDuration)); err != nil {
			t.Fatalf("AddLidarScan error: %v", err)
		}
	}
	if len(sink.stamps) == 0 {
		t.Error("expected at least one transform publication")
	}
}

type recordingPointSink struct {
	stamps []float64
	pts    [][]LidarPoint
}

func (r *recordingPointSink) PublishPoints(stamp float64, pts []LidarPoint) {
	r.stamps = append(r.stamps, stamp)
	cp := make([]LidarPoint, len(pts))
	copy(cp, pts)
	r.pts = append(r.pts, cp)
}

// TestOdometry_PublishesRawBufferedPointsInImuFrame guards the PointCloudSink
// contract directly on Odometry: it must see the still-buffered remainder
// (not the drained sweep) and that remainder must already sit in the IMU
// frame, i.e. the LiDAR->IMU extrinsic applied at ingest rather than drain.
func TestOdometry_PublishesRawBufferedPointsInImuFrame(t *testing.T) {
	cfg := stationaryConfig()
	cfg.ExtLidar2Imu = Rigid3{Pos: Vec3{X: 1, Y: 0, Z: 0}, Rot: IdentityQuat()}
	sink := &recordingPointSink{}
	o := NewOdometry(cfg, nil, sink, nil)

	dt := cfg.ImuDt()
	for i := 0; i < 30; i++ {
		o.AddImuData(ImuMeasurement{T: float64(i) * dt, Acc: Vec3{0, 0, cfg.GravityNorm}})
	}

	scan := flatPlaneScan(0)
	// Hold back the scan's last point so it survives BuildSweep's drain and
	// lands in the published remainder.
	tail := scan[len(scan)-1]
	tail.T += cfg.SweepDuration * 10
	held := append(append([]LidarPoint{}, scan[:len(scan)-1]...), tail)

	if err := o.AddLidarScan(held); err != nil {
		t.Fatalf("AddLidarScan error: %v", err)
	}

	if len(sink.pts) == 0 {
		t.Fatal("expected at least one point-cloud publication")
	}
	last := sink.pts[len(sink.pts)-1]
	if len(last) == 0 {
		t.Fatal("expected the held-back point to still be buffered")
	}
	if last[0].T != sink.stamps[len(sink.stamps)-1] {
		t.Errorf("stamp %v does not match first published point's T %v", sink.stamps[len(sink.stamps)-1], last[0].T)
	}
	wantX := tail.XYZ.X + cfg.ExtLidar2Imu.Pos.X
	approxVec(t, last[0].XYZ, Vec3{wantX, tail.XYZ.Y, tail.XYZ.Z}, 1e-9, "published point in IMU frame")
}
