// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// pingIDSequence is the process-wide monotonic counter backing every
// [PingTracker]'s ping ids (§3: "id is unique per process for its
// lifetime").
var pingIDSequence int64

func nextPingID() int64 {
	return atomic.AddInt64(&pingIDSequence, 1)
}

// PingTrackerState is one of [PingIdle] or [PingPending].
type PingTrackerState int

const (
	// PingIdle means no ping is currently outstanding.
	PingIdle PingTrackerState = iota

	// PingPending means a ping was initiated and awaits confirm or cancel.
	PingPending
)

// PingTracker implements the connection-check liveness protocol (§3, §4.B).
// It holds the configured timeout, the last recorded round-trip delay, and
// at most one active ping. All methods are safe for concurrent use and each
// call is atomic on its own; no atomicity across calls is provided, and
// [*Connection] makes its calls without holding its state lock.
type PingTracker struct {
	mu sync.Mutex

	timeout time.Duration
	now     func() time.Time

	state     PingTrackerState
	activeID  int64
	startedAt time.Time

	lastDelay time.Duration
	hasDelay  bool

	logger SLogger
	spanID string
}

// NewPingTracker returns an idle [*PingTracker] with the given timeout.
// now is the clock source ([*Connection] passes [Config.TimeNow]);
// logger/spanID are used only to
// log mismatched confirm/cancel ids.
func NewPingTracker(timeout time.Duration, now func() time.Time, logger SLogger, spanID string) *PingTracker {
	return &PingTracker{
		timeout: timeout,
		now:     now,
		state:   PingIdle,
		logger:  logger,
		spanID:  spanID,
	}
}

// InitiatePing arms the tracker and returns a fresh id. [*Connection.Check]
// calls it after moving to StateChecking and releasing its state lock;
// InitiatePing is internally synchronized.
func (t *PingTracker) InitiatePing() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := nextPingID()
	t.state = PingPending
	t.activeID = id
	t.startedAt = t.now()
	return id
}

// Confirm matches id against the currently armed ping. On a match it
// records the round-trip delay and disarms, returning true. A mismatched
// id is logged and ignored (returns false), per §4.B "otherwise a no-op
// with a warning".
func (t *PingTracker) Confirm(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != PingPending || id != t.activeID {
		t.logger.Info("pingConfirmMismatch",
			slog.String("spanID", t.spanID),
			slog.Int64("gotID", id),
			slog.Int64("wantID", t.activeID),
		)
		return false
	}

	t.lastDelay = t.now().Sub(t.startedAt)
	t.hasDelay = true
	t.state = PingIdle
	t.activeID = 0
	return true
}

// Cancel disarms a matching pending ping without recording a delay,
// symmetric to [PingTracker.Confirm].
func (t *PingTracker) Cancel(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != PingPending || id != t.activeID {
		t.logger.Info("pingCancelMismatch",
			slog.String("spanID", t.spanID),
			slog.Int64("gotID", id),
			slog.Int64("wantID", t.activeID),
		)
		return false
	}

	t.state = PingIdle
	t.activeID = 0
	return true
}

// TimedOut reports whether the currently pending ping, if any, has
// exceeded the configured timeout.
func (t *PingTracker) TimedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state == PingPending && t.now().Sub(t.startedAt) > t.timeout
}

// State returns the tracker's current state.
func (t *PingTracker) State() PingTrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// LastDelay returns the most recently recorded round-trip delay and
// whether one has ever been recorded.
func (t *PingTracker) LastDelay() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.lastDelay, t.hasDelay
}
