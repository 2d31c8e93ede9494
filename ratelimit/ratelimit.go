// Package ratelimit implements the client-side cool-down imposed after
// the backend answers HTTP 429. The window is coarse and shared by
// every caller of one client: the real quota lives server-side, this
// is only a throttle to stop hammering a backend that already said
// "slow down".
//
// Whether the window is active derives from the clock alone: Active
// compares now against the recorded resume time, so state stays
// correct even when the process was suspended and timers fired late.
// The countdown goroutine exists purely to refresh the user-facing
// notification once per second and flip it to "resolved".
package ratelimit

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/corpora-ai/corpora-go/internal/i18n"
	"github.com/corpora-ai/corpora-go/internal/log"
	"github.com/corpora-ai/corpora-go/notify"
)

// DefaultRetryAfter is the window applied when a 429 response carries
// no usable Retry-After value.
const DefaultRetryAfter = 60 * time.Second

// State is a read-only snapshot of the cool-down window.
type State struct {
	// Active reports whether requests are currently paused.
	Active bool
	// Window is the length of the most recent activation, 0 if the
	// controller was never activated.
	Window time.Duration
	// RetryAt is when requests may resume. Zero while inactive.
	RetryAt time.Time
	// Remaining is the time left in the window, 0 when inactive.
	Remaining time.Duration
}

// Controller owns the shared cool-down window. One instance is shared
// by all callers of a client; all methods are safe for concurrent use.
type Controller struct {
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	window  time.Duration
	retryAt time.Time
	done    chan struct{} // closing stops the countdown goroutine
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the time source. Only the lazily derived state
// uses it; countdown timers still run on the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates an inactive controller. A nil notifier discards
// notifications, a nil logger discards logs.
func New(notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Controller {
	if notifier == nil {
		notifier = notify.Discard()
	}
	if logger == nil {
		logger = log.NewNop()
	}

	c := &Controller{
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Activate opens a cool-down window of the given length. Activating
// while a window is already open replaces it: the new window is
// measured from now and the previous countdown stops, it does not
// stack onto the old one. A non-positive value is a no-op.
func (c *Controller) Activate(retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}

	c.mu.Lock()
	if c.done != nil {
		close(c.done)
	}
	done := make(chan struct{})
	c.done = done
	c.window = retryAfter
	c.retryAt = c.now().Add(retryAfter)
	c.mu.Unlock()

	c.logger.Warn("rate limit activated", "retry_after", retryAfter)
	c.notifyWaiting(retryAfter)

	go c.countdown(retryAfter, done)
}

// Deactivate closes the window and stops the countdown immediately,
// without emitting a resolved notification. Idempotent.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.window = 0
	c.retryAt = time.Time{}
}

// Close releases the controller's resources. Equivalent to Deactivate.
func (c *Controller) Close() {
	c.Deactivate()
}

// Active reports whether requests are currently paused. The answer is
// derived from the clock, not from the countdown goroutine, so an
// elapsed window reads inactive even before the timer fires.
func (c *Controller) Active() bool {
	return c.Remaining() > 0
}

// Remaining returns the time left in the window, 0 when inactive.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remainingLocked()
}

// Snapshot returns the current state in one consistent read.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.remainingLocked()

	return State{
		Active:    remaining > 0,
		Window:    c.window,
		RetryAt:   c.retryAt,
		Remaining: remaining,
	}
}

func (c *Controller) remainingLocked() time.Duration {
	if c.retryAt.IsZero() {
		return 0
	}

	remaining := c.retryAt.Sub(c.now())
	if remaining < 0 {
		return 0
	}

	return remaining
}

// countdown refreshes the waiting notification every second and emits
// the resolved notification when the window elapses. It exits early
// when done closes, which happens on replacement and on Deactivate.
func (c *Controller) countdown(window time.Duration, done chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if remaining := c.Remaining(); remaining > 0 {
				c.notifyWaiting(remaining)
			}
		case <-timer.C:
			if c.expire(done) {
				c.logger.Info("rate limit resolved")
				c.notifier.Notify(notify.Notification{
					Kind:    notify.KindRateLimitCleared,
					Level:   notify.LevelInfo,
					Message: i18n.T("ratelimit.resolved"),
				})
			}
			return
		}
	}
}

// expire clears the window on behalf of the countdown goroutine that
// owns done. Returns false when that goroutine was already replaced,
// so a stale timer cannot clear a newer window.
func (c *Controller) expire(done chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != done {
		return false
	}
	c.done = nil
	c.window = 0
	c.retryAt = time.Time{}

	return true
}

func (c *Controller) notifyWaiting(remaining time.Duration) {
	secs := int(math.Ceil(remaining.Seconds()))
	c.notifier.Notify(notify.Notification{
		Kind:      notify.KindRateLimit,
		Level:     notify.LevelWarning,
		Message:   i18n.Sprintf("ratelimit.waiting", secs),
		Remaining: remaining,
	})
}
