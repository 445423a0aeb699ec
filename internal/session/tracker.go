package session

import (
	"context"
	"log/slog"
	"sync"
)

// LoginFunc runs on an anonymous to authenticated transition. A returned
// error leaves the login pending, so the shopper's next Login runs the hooks
// again.
type LoginFunc func(ctx context.Context, s Session) error

// Tracker holds the current session. It doubles as the storefront client's
// credential source.
type Tracker struct {
	logger *slog.Logger

	mu      sync.RWMutex
	current *Session
	pending bool // login hooks not yet completed for current
	onLogin []LoginFunc
}

// NewTracker creates a tracker with no session (anonymous shopper).
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// OnLogin registers a hook run by Login on each new transition.
// Hooks run in registration order.
func (t *Tracker) OnLogin(fn LoginFunc) {
	t.mu.Lock()
	t.onLogin = append(t.onLogin, fn)
	t.mu.Unlock()
}

// Begin records s as the current session. It returns true when this is a
// transition: no session was active, or a different user was. A token
// refresh for the same user updates the token and returns false.
func (t *Tracker) Begin(s Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	transition := t.current == nil || t.current.UserID != s.UserID
	t.current = &s
	if transition {
		t.pending = true
	}
	return transition
}

// End forgets the session, so the next Begin is a transition again.
func (t *Tracker) End() {
	t.mu.Lock()
	t.current = nil
	t.pending = false
	t.mu.Unlock()
}

// Current returns the active session, if any.
func (t *Tracker) Current() (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return Session{}, false
	}
	return *t.current, true
}

// Token returns the bearer token of the active session, or "".
func (t *Tracker) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return ""
	}
	return t.current.Token
}

// Login begins s and, while its login is pending, runs the login hooks
// before returning. It reports whether the hooks ran. Concurrent logins for
// the same user run the hooks once; a failed hook re-arms them.
func (t *Tracker) Login(ctx context.Context, s Session) bool {
	t.Begin(s)

	t.mu.Lock()
	claimed := t.pending && t.current != nil && t.current.UserID == s.UserID
	if claimed {
		t.pending = false
	}
	hooks := append([]LoginFunc(nil), t.onLogin...)
	t.mu.Unlock()
	if !claimed {
		return false
	}

	t.logger.Info("shopper logged in", slog.String("user", s.UserID))
	failed := false
	for _, fn := range hooks {
		if err := fn(ctx, s); err != nil {
			failed = true
			t.logger.Warn("login hook failed, will retry on next login",
				slog.String("user", s.UserID),
				slog.String("error", err.Error()))
		}
	}

	if failed {
		t.mu.Lock()
		if t.current != nil && t.current.UserID == s.UserID {
			t.pending = true
		}
		t.mu.Unlock()
	}
	return true
}

// Logout ends the session.
func (t *Tracker) Logout() {
	if s, ok := t.Current(); ok {
		t.logger.Info("shopper logged out", slog.String("user", s.UserID))
	}
	t.End()
}
