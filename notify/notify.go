// Package notify delivers user-facing notices emitted by the client,
// such as rate-limit countdowns and session expiry. The embedding
// application decides how to render them (status bar, toast, log line);
// the client only produces the values.
package notify

import (
	"log/slog"
	"time"
)

// Level represents the severity of a notification.
type Level int

const (
	// LevelInfo is an informational notice.
	LevelInfo Level = iota
	// LevelWarning signals a degraded but recoverable condition.
	LevelWarning
	// LevelError signals a condition that requires user action.
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Kind identifies what a notification is about. Receivers use it to
// replace an earlier notice of the same kind instead of stacking a new
// one.
type Kind string

const (
	// KindRateLimit is emitted while requests are paused after a 429.
	KindRateLimit Kind = "rate-limit"
	// KindRateLimitCleared is emitted once when requests resume.
	KindRateLimitCleared Kind = "rate-limit-cleared"
	// KindSessionExpired is emitted when the stored credential is
	// rejected and cleared.
	KindSessionExpired Kind = "session-expired"
)

// Action names a follow-up the receiver can offer alongside the notice.
type Action string

const (
	// ActionNone offers no follow-up.
	ActionNone Action = ""
	// ActionOpenSettings invites the user to re-enter their API key.
	ActionOpenSettings Action = "open-settings"
)

// Notification is a single user-facing notice.
type Notification struct {
	Kind    Kind
	Level   Level
	Message string
	Action  Action
	// Remaining is the time until requests resume. Set only for
	// KindRateLimit.
	Remaining time.Duration
}

// Notifier receives notifications. Implementations must be safe for
// concurrent use and must not block: Notify is called from the
// client's timer goroutines.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to the Notifier interface.
type Func func(Notification)

// Notify calls f(n).
func (f Func) Notify(n Notification) { f(n) }

// Discard returns a Notifier that drops every notification.
func Discard() Notifier {
	return Func(func(Notification) {})
}

// Slog returns a Notifier that writes each notification to logger at
// the level matching the notification's severity.
func Slog(logger *slog.Logger) Notifier {
	return Func(func(n Notification) {
		attrs := []any{
			slog.String("kind", string(n.Kind)),
			slog.String("message", n.Message),
		}
		if n.Action != ActionNone {
			attrs = append(attrs, slog.String("action", string(n.Action)))
		}
		if n.Remaining > 0 {
			attrs = append(attrs, slog.Duration("remaining", n.Remaining))
		}

		switch n.Level {
		case LevelError:
			logger.Error("notification", attrs...)
		case LevelWarning:
			logger.Warn("notification", attrs...)
		default:
			logger.Info("notification", attrs...)
		}
	})
}
