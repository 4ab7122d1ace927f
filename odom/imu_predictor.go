package odom

// PredictTo extends the window's IMU-state and sample-state queues from buf
// up to endTime (C6). On the first invocation (no IMU state yet in the
// window) it seeds the window: two IMU states from the head of buf, and one
// sample state at the first IMU state's time with zero bias and gravity
// derived from the first measured specific force. It returns the
// unconsumed remainder of buf.
//
// Fails with ErrImuUnderflow when fewer than two IMU messages are available
// at the first invocation; buf is returned unchanged in that case.
func PredictTo(cfg Config, w *Window, buf []ImuMeasurement, endTime float64) ([]ImuMeasurement, error) {
	dt := cfg.ImuDt()

	if w.NumImu() == 0 {
		if len(buf) < 2 {
			return buf, ErrImuUnderflow
		}
		m0, m1 := buf[0], buf[1]

		rot0 := IdentityQuat()
		pos0 := Vec3{}
		gyrMid := m0.Gyr.Add(m1.Gyr).Scale(0.5)
		rot1 := rot0.Mul(ExpSO3(gyrMid.Scale(dt)))

		w.AppendImu(ImuState{T: m0.T, Gyr: m0.Gyr, Acc: m0.Acc, Pos: pos0, Rot: rot0})
		w.AppendImu(ImuState{T: m1.T, Gyr: m1.Gyr, Acc: m1.Acc, Pos: pos0, Rot: rot1})

		grav := m0.Acc.Normalized().Scale(-cfg.GravityNorm)
		w.AppendSample(SampleState{T: m0.T, Pos: pos0, Rot: rot0, Grav: grav})

		buf = buf[2:]
	}

	for len(buf) > 0 {
		if w.Imus()[w.NumImu()-1].T >= endTime {
			break
		}
		latest, ok := w.LatestSample()
		if !ok {
			break
		}
		m := buf[0]
		imus := w.Imus()
		n := len(imus)
		prev := imus[n-1]

		gyrMid := prev.Gyr.Add(m.Gyr).Scale(0.5).Sub(latest.Bg)
		rot := prev.Rot.Mul(ExpSO3(gyrMid.Scale(dt)))

		var pos Vec3
		if n >= 2 {
			prev2 := imus[n-2]
			accTerm := prev2.Rot.Rotate(prev2.Acc.Sub(latest.Ba)).Add(latest.Grav)
			pos = accTerm.Scale(dt * dt).Add(prev.Pos.Scale(2)).Sub(prev2.Pos)
		} else {
			pos = prev.Pos
		}

		w.AppendImu(ImuState{T: m.T, Gyr: m.Gyr, Acc: m.Acc, Pos: pos, Rot: rot})
		buf = buf[1:]
	}

	for {
		latest, ok := w.LatestSample()
		if !ok {
			break
		}
		t := latest.T + cfg.SampleDt
		if t >= endTime {
			break
		}
		pose, ok := imuPoseBracket(w.Imus(), t)
		if !ok {
			break
		}
		w.AppendSample(SampleState{
			T:    t,
			Pos:  pose.Pos,
			Rot:  pose.Rot,
			Bg:   latest.Bg,
			Ba:   latest.Ba,
			Grav: latest.Grav,
		})
	}

	return buf, nil
}

// imuPoseBracket locates the IMU-state bracket [i-1, i] with
// imus[i-1].T <= t < imus[i].T and interpolates the pose at t.
func imuPoseBracket(imus []ImuState, t float64) (Rigid3, bool) {
	for i := 1; i < len(imus); i++ {
		if imus[i-1].T <= t && t < imus[i].T {
			span := imus[i].T - imus[i-1].T
			var u float64
			if span > 0 {
				u = (t - imus[i-1].T) / span
			}
			return InterpolateRigid3(imus[i-1].Pose(), imus[i].Pose(), u), true
		}
	}
	return Rigid3{}, false
}
