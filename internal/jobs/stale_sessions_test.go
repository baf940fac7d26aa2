package jobs

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/lukasbauer/interviewer/internal/eventlog"
	"github.com/lukasbauer/interviewer/internal/interview"
	"github.com/lukasbauer/interviewer/internal/store"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions []store.Session
	listErr  error
	failFor  string
	cutoff   time.Time
	updated  map[string]interview.Phase
}

func (f *fakeSessionStore) ListStaleSessions(ctx context.Context, startedBefore time.Time) ([]store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = startedBefore
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.Session
	for _, s := range f.sessions {
		if s.StartedAt.Before(startedBefore) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) UpdateSessionPhase(ctx context.Context, sessionID string, phase interview.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID == f.failFor {
		return errors.New("db down")
	}
	if f.updated == nil {
		f.updated = make(map[string]interview.Phase)
	}
	f.updated[sessionID] = phase
	return nil
}

func TestStaleSessionJob_ClosesAbandonedSessions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeSessionStore{
		sessions: []store.Session{
			{ID: "old", Phase: "listening", StartedAt: now.Add(-5 * time.Hour)},
			{ID: "live", Phase: "processing", StartedAt: now.Add(-4 * time.Hour)},
			{ID: "broken", Phase: "paused", StartedAt: now.Add(-4 * time.Hour)},
			{ID: "fresh", Phase: "listening", StartedAt: now.Add(-time.Hour)},
		},
		failFor: "broken",
	}
	isLive := func(id string) bool { return id == "live" }
	j := NewStaleSessionJob(fs, eventlog.New(nil), isLive, log.New(io.Discard, "", 0), time.Hour, 3*time.Hour)
	j.now = func() time.Time { return now }

	if got := j.processAll(); got != 1 {
		t.Errorf("processAll() closed %d sessions, want 1", got)
	}
	if !fs.cutoff.Equal(now.Add(-3 * time.Hour)) {
		t.Errorf("cutoff = %v, want %v", fs.cutoff, now.Add(-3*time.Hour))
	}
	if fs.updated["old"] != interview.PhaseFailed {
		t.Errorf("old session phase = %q, want failed", fs.updated["old"])
	}
	for _, id := range []string{"live", "fresh", "broken"} {
		if _, ok := fs.updated[id]; ok {
			t.Errorf("session %s was closed", id)
		}
	}
}

func TestStaleSessionJob_ListError(t *testing.T) {
	fs := &fakeSessionStore{listErr: errors.New("timeout")}
	j := NewStaleSessionJob(fs, nil, nil, log.New(io.Discard, "", 0), 0, 0)
	if got := j.processAll(); got != 0 {
		t.Errorf("processAll() = %d, want 0", got)
	}
	if j.interval != 15*time.Minute || j.maxAge != 3*time.Hour {
		t.Errorf("defaults = %v / %v", j.interval, j.maxAge)
	}
}

func TestStaleSessionJob_StartStop(t *testing.T) {
	fs := &fakeSessionStore{}
	j := NewStaleSessionJob(fs, nil, nil, log.New(io.Discard, "", 0), time.Hour, time.Hour)
	j.Start()
	j.Stop()
	j.Stop()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.cutoff.IsZero() {
		t.Error("job did not run on start")
	}
}
