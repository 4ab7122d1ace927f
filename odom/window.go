package odom

import (
	"fmt"
	"sync"
)

// arena is contiguous, append-only storage for one window collection
// (sample states, IMU states, or surfels). Handles are stable integer
// indices into the arena's logical sequence; TrimFront evicts the oldest
// prefix and shifts base so handles issued before the trim that still
// reference surviving elements keep resolving correctly. This replaces the
// shared-pointer ownership of the original engine (see Design Notes).
type arena[T any] struct {
	base  int
	items []T
}

func (a *arena[T]) Append(v T) int {
	h := a.base + len(a.items)
	a.items = append(a.items, v)
	return h
}

func (a *arena[T]) At(handle int) *T { return &a.items[handle-a.base] }

func (a *arena[T]) Len() int { return len(a.items) }

func (a *arena[T]) Front() *T { return &a.items[0] }

func (a *arena[T]) Back() *T { return &a.items[len(a.items)-1] }

func (a *arena[T]) FirstHandle() int { return a.base }

func (a *arena[T]) LastHandle() int { return a.base + len(a.items) - 1 }

// TrimFront evicts the oldest n elements, shifting base by n.
func (a *arena[T]) TrimFront(n int) {
	if n <= 0 {
		return
	}
	if n > len(a.items) {
		n = len(a.items)
	}
	a.items = a.items[n:]
	a.base += n
}

func (a *arena[T]) Slice() []T { return a.items }

// Window holds the three sliding-window collections (sample/IMU/surfel
// queues) plus the one-shot initialization latches that in the original
// engine lived in global/file-scope state. All mutation happens from the
// single core-owning goroutine during one AddLidarScan invocation; the
// mutex exists so an external publisher can take a safe copy-out snapshot
// between scans, mirroring mesh/state.go's StateTracker.
type Window struct {
	mu sync.RWMutex

	samples arena[SampleState]
	imus    arena[ImuState]
	surfels arena[Surfel]

	initSlidingWindow bool
	syncDone          bool
}

func NewWindow() *Window {
	return &Window{}
}

// AppendSample appends a new knot to the sample-state queue and returns its
// handle.
func (w *Window) AppendSample(s SampleState) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples.Append(s)
}

// AppendImu appends a new propagated IMU state and returns its handle.
func (w *Window) AppendImu(s ImuState) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.imus.Append(s)
}

// AppendSurfel appends a new surfel to the window map and returns its
// handle.
func (w *Window) AppendSurfel(s Surfel) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.surfels.Append(s)
}

func (w *Window) Sample(handle int) *SampleState { return w.samples.At(handle) }
func (w *Window) Imu(handle int) *ImuState        { return w.imus.At(handle) }
func (w *Window) SurfelAt(handle int) *Surfel     { return w.surfels.At(handle) }

// SampleHandleAt converts an index into the current Samples() slice to a
// stable arena handle usable with Sample().
func (w *Window) SampleHandleAt(i int) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.samples.FirstHandle() + i
}

func (w *Window) NumSamples() int { return w.samples.Len() }
func (w *Window) NumImu() int     { return w.imus.Len() }

// ImuHandleAt converts an index into the current Imus() slice to a stable
// arena handle usable with Imu().
func (w *Window) ImuHandleAt(i int) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.imus.FirstHandle() + i
}

// SurfelHandleAt converts an index into the current Surfels() slice to a
// stable arena handle usable with SurfelAt().
func (w *Window) SurfelHandleAt(i int) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.surfels.FirstHandle() + i
}
func (w *Window) NumSurfels() int { return w.surfels.Len() }

// Samples returns the live sample-state queue in window order. Callers must
// not retain the slice beyond the processing of the current scan (ownership
// rule, spec §3).
func (w *Window) Samples() []SampleState { return w.samples.Slice() }
func (w *Window) Imus() []ImuState       { return w.imus.Slice() }
func (w *Window) Surfels() []Surfel      { return w.surfels.Slice() }

// SurfelsSnapshot returns a defensive copy, safe to hand to an external
// publisher outside the core goroutine.
func (w *Window) SurfelsSnapshot() []Surfel {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Surfel, len(w.surfels.items))
	copy(out, w.surfels.items)
	return out
}

// LatestSample returns the most recent sample state, which carries the
// estimator's current trajectory and gravity, and true when a sample exists.
func (w *Window) LatestSample() (SampleState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.samples.Len() == 0 {
		return SampleState{}, false
	}
	return *w.samples.Back(), true
}

// Span returns the current window duration, back().t - front().t.
func (w *Window) Span() float64 {
	if w.samples.Len() == 0 {
		return 0
	}
	return w.samples.Back().T - w.samples.Front().T
}

// Trim enforces the C9 trim order: drop oldest sample states until span <=
// slidingWindowDuration, then drop IMU states preceding the new sample
// front, then drop surfels preceding the new IMU front. No-op when already
// within budget.
func (w *Window) Trim(slidingWindowDuration float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.samples.Len() > 1 && w.samples.Back().T-w.samples.Front().T > slidingWindowDuration {
		w.samples.TrimFront(1)
	}
	if w.samples.Len() == 0 {
		return
	}
	sampleFrontT := w.samples.Front().T

	dropImu := 0
	for dropImu < w.imus.Len() && w.imus.items[dropImu].T < sampleFrontT {
		dropImu++
	}
	w.imus.TrimFront(dropImu)
	if w.imus.Len() == 0 {
		return
	}
	imuFrontT := w.imus.Front().T

	dropSurf := 0
	for dropSurf < w.surfels.Len() && w.surfels.items[dropSurf].T < imuFrontT {
		dropSurf++
	}
	w.surfels.TrimFront(dropSurf)
}

// CheckInvariants validates the sliding-window invariants from spec §3;
// returns a ContractViolationError describing the first violation found.
// Used in tests and, by Odometry.AddLidarScan, as a defensive check after
// each processed scan.
func (w *Window) CheckInvariants(sampleDt, slidingWindowDuration float64) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ss := w.samples.items
	for i := 1; i < len(ss); i++ {
		gap := ss[i].T - ss[i-1].T
		if gap <= 0 {
			return newContractViolation("CheckInvariants", "sample_states not strictly time-ordered")
		}
		const eps = 1e-6
		if gap < sampleDt-eps || gap > sampleDt+eps {
			return newContractViolation("CheckInvariants", fmt.Sprintf("sample gap %.6f != sample_dt %.6f", gap, sampleDt))
		}
	}
	if len(ss) > 0 {
		span := ss[len(ss)-1].T - ss[0].T
		if span > slidingWindowDuration+1e-6 {
			return newContractViolation("CheckInvariants", "window span exceeds sliding_window_duration")
		}
	}

	is := w.imus.items
	for i := 1; i < len(is); i++ {
		if is[i].T <= is[i-1].T {
			return newContractViolation("CheckInvariants", "imu_states not strictly time-ordered")
		}
	}
	if len(ss) > 0 && len(is) > 0 {
		if is[0].T < ss[0].T {
			return newContractViolation("CheckInvariants", "imu_states.front().t < sample_states.front().t")
		}
		if is[len(is)-1].T < ss[len(ss)-1].T {
			return newContractViolation("CheckInvariants", "imu_states.back().t < sample_states.back().t")
		}
	}

	sf := w.surfels.items
	if len(sf) > 0 && len(is) > 0 && sf[0].T < is[0].T {
		return newContractViolation("CheckInvariants", "surfels.front().t < imu_states.front().t")
	}

	return nil
}
