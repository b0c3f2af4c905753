// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"sync"
	"time"
)

// TimerSubscriber is polled by [*GlobalTimer] on every tick. [*Manager]
// implements this to drive its connections' liveness checks (§3, §4.G).
type TimerSubscriber interface {
	UpdateConnectionStatus()
}

// GlobalTimer is the process-wide periodic liveness tick and one-shot
// delayed-action scheduler of §3/§4.G. It is lazily created on first use
// via [DefaultGlobalTimer] and normally lives for the process lifetime;
// [*GlobalTimer.Stop] tears it down for tests or explicit cleanup.
type GlobalTimer struct {
	clock func() time.Time

	mu          sync.RWMutex
	subscribers map[TimerSubscriber]struct{}
	tickPeriod  time.Duration

	timerMu sync.Mutex
	timer   *time.Timer
	stopped bool
}

var (
	defaultGlobalTimerOnce sync.Once
	defaultGlobalTimer     *GlobalTimer
)

// DefaultGlobalTimer returns the process-wide [*GlobalTimer], creating it
// with a 60-second tick period on first call (§3 "default 60 s").
func DefaultGlobalTimer() *GlobalTimer {
	defaultGlobalTimerOnce.Do(func() {
		defaultGlobalTimer = NewGlobalTimer(time.Now, 60*time.Second)
	})
	return defaultGlobalTimer
}

// NewGlobalTimer returns a standalone [*GlobalTimer], useful in tests that
// want an isolated instance rather than the process default.
func NewGlobalTimer(clock func() time.Time, tickPeriod time.Duration) *GlobalTimer {
	t := &GlobalTimer{
		clock:       clock,
		subscribers: make(map[TimerSubscriber]struct{}),
		tickPeriod:  tickPeriod,
	}
	t.scheduleTick()
	return t
}

// ClockMs returns the timer clock's current reading in milliseconds since
// the Unix epoch. [PingTracker] and connection timeouts do not read it;
// they use [Config.TimeNow].
func (t *GlobalTimer) ClockMs() int64 {
	return t.clock().UnixMilli()
}

// Subscribe registers manager to receive periodic ticks.
func (t *GlobalTimer) Subscribe(manager TimerSubscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[manager] = struct{}{}
}

// Unsubscribe removes manager from the tick set.
func (t *GlobalTimer) Unsubscribe(manager TimerSubscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, manager)
}

// Delay runs action after d elapses, on the goroutine [time.AfterFunc]
// starts for it; it does not run on the goroutine of the periodic tick.
func (t *GlobalTimer) Delay(action func(), d time.Duration) {
	time.AfterFunc(d, action)
}

// DelayAsync schedules action onto a fresh goroutine after d elapses, so a
// slow action cannot starve the timer's own tick scheduling (§4.G
// "avoid blocking the timer thread").
func (t *GlobalTimer) DelayAsync(action func(), d time.Duration) {
	time.AfterFunc(d, func() { go action() })
}

// SetTickPeriod atomically reschedules the periodic tick.
func (t *GlobalTimer) SetTickPeriod(d time.Duration) {
	t.mu.Lock()
	t.tickPeriod = d
	t.mu.Unlock()

	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.scheduleTickLocked()
}

// Stop halts the periodic tick. A stopped timer does not resume; callers
// needing a fresh timer should construct one with [NewGlobalTimer].
func (t *GlobalTimer) Stop() {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *GlobalTimer) scheduleTick() {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	t.scheduleTickLocked()
}

// scheduleTickLocked must be called with timerMu held.
func (t *GlobalTimer) scheduleTickLocked() {
	if t.stopped {
		return
	}
	t.mu.RLock()
	period := t.tickPeriod
	t.mu.RUnlock()

	t.timer = time.AfterFunc(period, t.onTick)
}

func (t *GlobalTimer) onTick() {
	t.mu.RLock()
	subscribers := make([]TimerSubscriber, 0, len(t.subscribers))
	for s := range t.subscribers {
		subscribers = append(subscribers, s)
	}
	t.mu.RUnlock()

	for _, s := range subscribers {
		s.UpdateConnectionStatus()
	}

	t.scheduleTick()
}
