package core

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// RecordedEvent is one captured log record with its attributes flattened
// into dotted keys.
type RecordedEvent struct {
	Message string
	Attrs   map[string]any
}

// LogRecorder is a slog.Handler that captures records for assertions on the
// locker's structured events.
type LogRecorder struct {
	mu      sync.Mutex
	records []RecordedEvent
}

func NewLogRecorder() *LogRecorder {
	return &LogRecorder{}
}

func (r *LogRecorder) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	attrs := make(map[string]any)
	rec.Attrs(func(a slog.Attr) bool {
		flattenAttr(attrs, "", a)
		return true
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, RecordedEvent{Message: rec.Message, Attrs: attrs})
	return nil
}

func (r *LogRecorder) WithAttrs(_ []slog.Attr) slog.Handler { return r }
func (r *LogRecorder) WithGroup(_ string) slog.Handler      { return r }

func flattenAttr(into map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, member := range v.Group() {
			flattenAttr(into, prefix+a.Key+".", member)
		}
		return
	}
	into[prefix+a.Key] = v.Any()
}

// Events returns the captured records with the given message.
func (r *LogRecorder) Events(message string) []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []RecordedEvent
	for _, rec := range r.records {
		if rec.Message == message {
			matched = append(matched, rec)
		}
	}
	return matched
}

// TestSetup provides common test dependencies
type TestSetup struct {
	Conn *MockConn
	Log  *LogRecorder
}

// NewTestSetup creates a standard test setup with a mock connection and a
// recording logger installed as the default.
func NewTestSetup(t *testing.T) *TestSetup {
	t.Helper()

	recorder := NewLogRecorder()
	previous := slog.Default()
	slog.SetDefault(slog.New(recorder))
	t.Cleanup(func() { slog.SetDefault(previous) })

	return &TestSetup{
		Conn: NewMockConn(),
		Log:  recorder,
	}
}

// LockerBuilder helps create lockers for testing
type LockerBuilder struct {
	setup   *TestSetup
	runner  JobRunner
	options []LockerOption
}

// NewLocker starts building a test locker with a no-op runner.
func (s *TestSetup) NewLocker() *LockerBuilder {
	return &LockerBuilder{
		setup:  s,
		runner: func(ctx context.Context, d Descriptor) error { return nil },
	}
}

// WithRunner sets the job runner
func (b *LockerBuilder) WithRunner(runner JobRunner) *LockerBuilder {
	b.runner = runner
	return b
}

// WithOptions adds locker options
func (b *LockerBuilder) WithOptions(options ...LockerOption) *LockerBuilder {
	b.options = append(b.options, options...)
	return b
}

// Build creates the locker
func (b *LockerBuilder) Build() *Locker {
	return NewLocker(b.setup.Conn, b.runner, b.options...)
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// job builds a descriptor for tests. Offsets keep run_at tie-breakers
// deterministic.
func job(priority int16, runAtOffset time.Duration, id int64) Descriptor {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return Descriptor{Priority: priority, RunAt: base.Add(runAtOffset), JobID: id}
}
