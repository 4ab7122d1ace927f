package odom

import "log"

// SurfelSink receives the window surfel map on every processed scan.
type SurfelSink interface {
	PublishSurfels(window []Surfel)
}

// PointCloudSink receives the raw buffered points in the IMU frame,
// stamped at the first point's timestamp.
type PointCloudSink interface {
	PublishPoints(stamp float64, pts []LidarPoint)
}

// TransformSink receives the latest sample state's body-to-world pose,
// stamped at that sample's timestamp.
type TransformSink interface {
	PublishTransform(stamp float64, pose Rigid3)
}

// Odometry is the single logical owner driving AddImuData -> AddLidarScan
// -> optimize strictly serially (spec §5). It is not safe for concurrent
// use; callers that ingest from multiple producer goroutines must hand off
// through a bounded queue onto one consumer goroutine (see package
// ingest).
type Odometry struct {
	cfg Config
	win *Window

	imuBuf   []ImuMeasurement
	lidarBuf []LidarPoint

	haveLastImuT   bool
	lastImuT       float64
	haveLastLidarT bool
	lastLidarT     float64

	syncDone bool

	firstExtractionDone bool
	globalSurfels       []Surfel

	nextSweepEnd    float64
	haveNextSweepEnd bool

	surfelSink    SurfelSink
	pointSink     PointCloudSink
	transformSink TransformSink
}

// NewOdometry constructs an odometry engine with the given static
// configuration and publish sinks (any of which may be nil).
func NewOdometry(cfg Config, surfelSink SurfelSink, pointSink PointCloudSink, transformSink TransformSink) *Odometry {
	return &Odometry{
		cfg:           cfg,
		win:           NewWindow(),
		surfelSink:    surfelSink,
		pointSink:     pointSink,
		transformSink: transformSink,
	}
}

// Window exposes the underlying sliding window, e.g. for a debug renderer
// that needs a read-only snapshot between scans.
func (o *Odometry) Window() *Window { return o.win }

// AddImuData appends one inertial measurement to the IMU buffer. t must be
// strictly greater than the previous call's t.
func (o *Odometry) AddImuData(m ImuMeasurement) error {
	if o.haveLastImuT && m.T <= o.lastImuT {
		return newContractViolation("AddImuData", "imu timestamps must strictly increase")
	}
	o.imuBuf = append(o.imuBuf, m)
	o.lastImuT = m.T
	o.haveLastImuT = true
	return nil
}

// AddLidarScan appends a batch of LiDAR points (non-decreasing t, across
// and within calls) and drives one full scan-processing cycle: sweep
// construction, undistortion, surfel extraction, the outer optimization
// loop, window trim, and sink publication.
func (o *Odometry) AddLidarScan(points []LidarPoint) error {
	for i, p := range points {
		if o.haveLastLidarT && p.T < o.lastLidarT {
			return newContractViolation("AddLidarScan", "lidar timestamps must be non-decreasing")
		}
		if i > 0 && p.T < points[i-1].T {
			return newContractViolation("AddLidarScan", "lidar timestamps must be non-decreasing within a call")
		}
	}
	if len(points) > 0 {
		// The LiDAR->IMU extrinsic is applied once, here at ingest, so every
		// point sitting in o.lidarBuf (and anything later drained from it by
		// BuildSweep) is already in the IMU frame.
		for _, p := range points {
			o.lidarBuf = append(o.lidarBuf, LidarPoint{XYZ: o.cfg.ExtLidar2Imu.Apply(p.XYZ), T: p.T})
		}
		o.lastLidarT = points[len(points)-1].T
		o.haveLastLidarT = true
	}

	if !o.syncDone {
		if err := o.syncHeadingMsgs(); err != nil {
			return nil // transient insufficiency: return without advancing state
		}
	}

	if len(o.lidarBuf) == 0 {
		return nil
	}
	if !o.haveNextSweepEnd {
		o.nextSweepEnd = o.lidarBuf[0].T + o.cfg.SweepDuration
		o.haveNextSweepEnd = true
	}

	rest, err := PredictTo(o.cfg, o.win, o.imuBuf, o.nextSweepEnd)
	o.imuBuf = rest
	if err == ErrImuUnderflow {
		return nil // boundary: first call before enough IMU data, no effect
	}
	if err != nil {
		return err
	}
	if o.win.NumSamples() == 0 {
		return nil
	}

	latest, _ := o.win.LatestSample()
	sweepEndtime := latest.T // snap to the latest sample state's t (§4.7 step 1)

	sweep, restPts, err := BuildSweep(o.cfg, o.lidarBuf, sweepEndtime)
	if err != nil {
		return err
	}
	o.lidarBuf = restPts
	o.nextSweepEnd += o.cfg.SweepDuration

	undistorted, err := UndistortSweep(sweep, o.win.Imus())
	if err != nil {
		log.Printf("odometry: undistort skipped this scan: %v", err)
	} else {
		refPose := func(t float64) (Rigid3, bool) { return imuPoseBracket(o.win.Imus(), t) }
		surfels := ExtractSurfels(o.cfg, undistorted, refPose)
		if !o.firstExtractionDone {
			o.globalSurfels = append(o.globalSurfels, surfels...)
			o.firstExtractionDone = true
		}
		for _, s := range surfels {
			o.win.AppendSurfel(s)
		}
		UpdateSurfelPoses(o.win)
	}

	for i := 0; i < o.cfg.OuterIterNumMax; i++ {
		if _, err := RunOuterIteration(o.cfg, o.win); err != nil {
			return err
		}
	}

	o.win.Trim(o.cfg.SlidingWindowDuration)

	if err := o.win.CheckInvariants(o.cfg.SampleDt, o.cfg.SlidingWindowDuration); err != nil {
		return err
	}

	o.publish()
	return nil
}

func (o *Odometry) publish() {
	if o.surfelSink != nil {
		o.surfelSink.PublishSurfels(o.win.SurfelsSnapshot())
	}
	if o.pointSink != nil && len(o.lidarBuf) > 0 {
		o.pointSink.PublishPoints(o.lidarBuf[0].T, o.lidarBuf)
	}
	if o.transformSink != nil {
		if latest, ok := o.win.LatestSample(); ok {
			o.transformSink.PublishTransform(latest.T, latest.Pose())
		}
	}
}

// GlobalSurfelMap returns the append-only surfel map committed on first
// extraction; safe to read without synchronization as long as no scan is
// currently being processed (spec §5).
func (o *Odometry) GlobalSurfelMap() []Surfel { return o.globalSurfels }

// syncHeadingMsgs advances the head of each buffer so they first overlap in
// time; idempotent after its first success (spec §5).
func (o *Odometry) syncHeadingMsgs() error {
	if len(o.imuBuf) == 0 || len(o.lidarBuf) == 0 {
		return ErrNotSynced
	}
	for len(o.imuBuf) > 0 && len(o.lidarBuf) > 0 && o.imuBuf[0].T < o.lidarBuf[0].T {
		o.imuBuf = o.imuBuf[1:]
	}
	for len(o.imuBuf) > 0 && len(o.lidarBuf) > 0 && o.lidarBuf[0].T < o.imuBuf[0].T {
		o.lidarBuf = o.lidarBuf[1:]
	}
	if len(o.imuBuf) == 0 || len(o.lidarBuf) == 0 {
		return ErrNotSynced
	}
	o.syncDone = true
	return nil
}
