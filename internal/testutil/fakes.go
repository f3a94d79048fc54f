package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sophialabs/odatamock/internal/domain/manifest"
	"github.com/sophialabs/odatamock/internal/infrastructure/ports"
)

var _ ports.Logger = (*NoopLogger)(nil)

// NoopLogger discards all log output.
type NoopLogger struct{}

func (l *NoopLogger) Info(string, ...any)  {}
func (l *NoopLogger) Warn(string, ...any)  {}
func (l *NoopLogger) Error(string, ...any) {}
func (l *NoopLogger) Debug(string, ...any) {}

var _ ports.Logger = (*RecordingLogger)(nil)

// RecordingLogger keeps every message as "LEVEL msg".
type RecordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *RecordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *RecordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *RecordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }
func (l *RecordingLogger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }

func (l *RecordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s %s", level, msg))
}

// Messages returns the recorded messages in order.
func (l *RecordingLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

// Contains reports whether "LEVEL msg" was logged.
func (l *RecordingLogger) Contains(level, msg string) bool {
	want := level + " " + msg
	for _, m := range l.Messages() {
		if m == want {
			return true
		}
	}
	return false
}

var _ ports.Clock = (*FixedClock)(nil)

// FixedClock returns a fixed time and never sleeps. Requested sleeps are
// recorded.
type FixedClock struct {
	T time.Time

	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *FixedClock) Now() time.Time { return c.T }

func (c *FixedClock) SleepContext(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

// Sleeps returns the durations passed to SleepContext.
func (c *FixedClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

var _ ports.RateLimiter = (*StubRateLimiter)(nil)

// StubRateLimiter returns a configurable Allow result.
type StubRateLimiter struct {
	AllowAll bool
}

func (r *StubRateLimiter) Allow(context.Context, string, float64, int) bool {
	return r.AllowAll
}

var _ ports.Notifier = (*RecordingNotifier)(nil)

// RecordingNotifier keeps the current alert.
type RecordingNotifier struct {
	mu     sync.Mutex
	alerts []string
	active string
}

func (n *RecordingNotifier) Alert(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, message)
	n.active = message
}

func (n *RecordingNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = ""
}

// Active returns the alert currently raised, or "".
func (n *RecordingNotifier) Active() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

// Alerts returns every alert raised so far.
func (n *RecordingNotifier) Alerts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.alerts...)
}

var _ manifest.Loader = (*StubManifestLoader)(nil)

// StubManifestLoader returns a configured manifest or error and counts calls.
type StubManifestLoader struct {
	Manifest *manifest.Manifest
	Err      error

	mu    sync.Mutex
	calls int
}

func (l *StubManifestLoader) Load(context.Context, string) (*manifest.Manifest, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.Manifest, l.Err
}

// Calls returns how many times Load was called.
func (l *StubManifestLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
