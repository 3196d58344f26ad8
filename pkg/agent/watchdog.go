package agent

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultPollInterval is how often presence is checked.
	DefaultPollInterval = 30 * time.Second
	// DefaultInactivityLimit is how long continuous inactivity is
	// tolerated before the session is ended.
	DefaultInactivityLimit = 10 * time.Minute
)

// PresenceChecker asks the backend whether a user has gone inactive.
type PresenceChecker interface {
	CheckPresence(ctx context.Context, userID string) (inactive bool, err error)
}

// Watchdog polls user presence and unilaterally ends the session once
// the user has been continuously inactive past the limit. Poll
// failures are logged and skipped; only a sustained inactive signal
// fires the watchdog.
type Watchdog struct {
	checker  PresenceChecker
	userID   string
	interval time.Duration
	limit    time.Duration
	logger   *slog.Logger
}

// WatchdogOption configures a Watchdog.
type WatchdogOption func(*Watchdog)

// WithPollInterval overrides the poll cadence.
func WithPollInterval(d time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithInactivityLimit overrides the continuous-inactivity threshold.
func WithInactivityLimit(d time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		if d > 0 {
			w.limit = d
		}
	}
}

// NewWatchdog builds a watchdog for one user's session.
func NewWatchdog(checker PresenceChecker, userID string, logger *slog.Logger, opts ...WatchdogOption) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watchdog{
		checker:  checker,
		userID:   userID,
		interval: DefaultPollInterval,
		limit:    DefaultInactivityLimit,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the polling loop in its own goroutine. The returned
// channel is closed when the loop has stopped, either because it
// fired or because ctx was cancelled. Cancellation stops future polls;
// an in-flight poll may complete and its result is discarded.
func (w *Watchdog) Start(ctx context.Context, session *Session) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx, session)
	}()
	return done
}

func (w *Watchdog) run(ctx context.Context, session *Session) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	lastActive := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		inactive, err := w.checker.CheckPresence(ctx, w.userID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Error("presence poll failed", "user", w.userID, "error", err)
			continue
		}

		if !inactive {
			lastActive = time.Now()
			continue
		}

		if time.Since(lastActive) <= w.limit {
			continue
		}

		w.logger.Info("user inactive past limit, ending session",
			"user", w.userID, "inactive_for", time.Since(lastActive))
		session.sendEvent(NewAgentStatus("leaving_room", "user_inactive"))
		session.speak(ctx, goodbyeUtterance)
		session.Close()
		return
	}
}
