package odom

// BuildSweep drains the prefix of buf whose T < sweepEndtime into a sweep,
// preserving order and filtering by range and the blind bounding box. It
// returns the remaining buffer (un-drained suffix) alongside the sweep.
//
// buf is assumed already in the IMU frame: the LiDAR->IMU extrinsic is
// applied once, at ingest time, by Odometry.AddLidarScan, so the buffered
// points a PointCloudSink observes are in the same frame as the sweeps built
// from them.
//
// Points in buf must satisfy buf[i].T <= buf[i+1].T; a violation is a fatal
// contract error, matching the strictly-time-monotone precondition on the
// raw LiDAR stream.
func BuildSweep(cfg Config, buf []LidarPoint, sweepEndtime float64) (sweep []LidarPoint, rest []LidarPoint, err error) {
	for i := 1; i < len(buf); i++ {
		if buf[i].T < buf[i-1].T {
			return nil, buf, newContractViolation("BuildSweep", "lidar buffer not time-monotone")
		}
	}

	cut := 0
	for cut < len(buf) && buf[cut].T < sweepEndtime {
		cut++
	}

	sweep = make([]LidarPoint, 0, cut)
	for _, p := range buf[:cut] {
		r := p.XYZ.Norm()
		if r < cfg.MinRange || r > cfg.MaxRange {
			continue
		}
		if cfg.BlindBoundingBox.Contains(p.XYZ) {
			continue
		}
		sweep = append(sweep, p)
	}

	rest = buf[cut:]
	return sweep, rest, nil
}

// UndistortSweep warps every point of sweep into the world frame using the
// IMU-state trajectory, interpolating the bracketing pose at each point's
// timestamp. imuStates must be time-ordered.
//
// Returns ErrBracketMissing, unwrapped, the first time a point's T falls
// outside the IMU-state range.
func UndistortSweep(sweep []LidarPoint, imuStates []ImuState) ([]LidarPoint, error) {
	out := make([]LidarPoint, len(sweep))
	// bracket search advances monotonically with the sweep since both
	// sequences are time-ordered; this keeps undistortion linear instead of
	// a binary search per point.
	i := 0
	for k, p := range sweep {
		for i+1 < len(imuStates) && imuStates[i+1].T <= p.T {
			i++
		}
		if i+1 >= len(imuStates) || imuStates[i].T > p.T {
			return nil, ErrBracketMissing
		}
		lo, hi := imuStates[i], imuStates[i+1]
		span := hi.T - lo.T
		var u float64
		if span > 0 {
			u = (p.T - lo.T) / span
		}
		pose := InterpolateRigid3(lo.Pose(), hi.Pose(), u)
		out[k] = LidarPoint{XYZ: pose.Apply(p.XYZ), T: p.T}
	}
	return out, nil
}
