package progress

import "time"

// sessionTimer tracks playable time: wall time since start minus every
// paused interval. It is mutated only by the controller under its lock.
type sessionTimer struct {
	startedAt  time.Time
	pausedAt   time.Time // zero while running
	totalPause time.Duration
	limit      time.Duration
}

func (t *sessionTimer) start(now time.Time) {
	t.startedAt = now
	t.pausedAt = time.Time{}
	t.totalPause = 0
}

func (t *sessionTimer) pause(now time.Time) {
	if t.pausedAt.IsZero() {
		t.pausedAt = now
	}
}

// resume folds the pause into the running total. When the coordination
// service reports the authoritative paused duration it wins over the
// locally measured one, keeping both clients' accounting identical.
func (t *sessionTimer) resume(now time.Time, reported time.Duration) {
	if t.pausedAt.IsZero() {
		return
	}
	paused := now.Sub(t.pausedAt)
	if reported > 0 {
		paused = reported
	}
	t.totalPause += paused
	t.pausedAt = time.Time{}
}

// elapsed is playable time only, never counting the current or any past
// paused interval.
func (t *sessionTimer) elapsed(now time.Time) time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	end := now
	if !t.pausedAt.IsZero() {
		end = t.pausedAt
	}
	return end.Sub(t.startedAt) - t.totalPause
}

func (t *sessionTimer) expired(now time.Time) bool {
	return t.limit > 0 && t.elapsed(now) >= t.limit
}

func (t *sessionTimer) remaining(now time.Time) time.Duration {
	if t.limit <= 0 {
		return 0
	}
	left := t.limit - t.elapsed(now)
	if left < 0 {
		return 0
	}
	return left
}
