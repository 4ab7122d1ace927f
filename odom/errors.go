package odom

import (
	"errors"
	"fmt"
)

// ContractViolationError signals a broken precondition that the caller must
// never be able to trigger in correct usage: monotonicity broken, a window
// invariant broken, or a bracket missing where the protocol guarantees one.
// It is returned, never panicked, so main and tests can assert on it; main
// treats one as fatal.
type ContractViolationError struct {
	Op  string
	Msg string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("odom: contract violation in %s: %s", e.Op, e.Msg)
}

func newContractViolation(op, msg string) error {
	return &ContractViolationError{Op: op, Msg: msg}
}

// Transient insufficiency sentinels: the caller should return without
// advancing state and retry once more data arrives.
var (
	// ErrImuUnderflow: fewer than two IMU messages buffered at first
	// window seeding.
	ErrImuUnderflow = errors.New("odom: imu underflow, need at least 2 samples to seed window")

	// ErrBracketMissing: no IMU-state bracket exists to undistort or
	// interpolate a given timestamp.
	ErrBracketMissing = errors.New("odom: no imu-state bracket for timestamp")

	// ErrNotSynced: SyncHeadingMsgs has not yet found time-overlap between
	// the IMU and LiDAR buffers.
	ErrNotSynced = errors.New("odom: imu and lidar buffers not yet time-synced")
)
