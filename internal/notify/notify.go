// Package notify delivers user-facing toasts raised by the stores:
// stock clamps, rolled-back syncs, login merge summaries.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is a notification's severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one toast.
type Notification struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "notification",
		slog.String("level", string(n.Level)),
		slog.String("title", n.Title),
		slog.String("message", n.Message),
	)
}

// DefaultFeedSize is the feed capacity when none is given.
const DefaultFeedSize = 50

// Feed buffers the most recent notifications until a front end drains them.
// When full, the oldest notification is dropped.
type Feed struct {
	mu    sync.Mutex
	size  int
	items []Notification
}

// NewFeed creates a feed holding at most size notifications.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{size: size}
}

func (f *Feed) Notify(_ context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == f.size {
		f.items = append(f.items[:0], f.items[1:]...)
	}
	f.items = append(f.items, n)
}

// Drain returns buffered notifications oldest first and empties the feed.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.items
	f.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Len reports how many notifications are buffered.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, nt := range m {
		nt.Notify(ctx, n)
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}
