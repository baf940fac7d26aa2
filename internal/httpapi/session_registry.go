package httpapi

import (
	"sort"
	"sync"
	"time"

	"github.com/lukasbauer/interviewer/internal/interview"
)

// SessionRegistry tracks live interview sessions and supports graceful draining.
// When draining is enabled, new sessions are rejected while in-flight sessions
// finish naturally.
//
// The draining check and wg.Add happen under mu so that StartDraining followed
// by Wait cannot miss a session registered concurrently.
type SessionRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	sessions map[string]activeSession
}

type activeSession struct {
	session     *interview.Session
	interviewID string
	startedAt   time.Time
}

// ActiveSession is a snapshot of one live session.
type ActiveSession struct {
	ID          string          `json:"id"`
	InterviewID string          `json:"interview_id"`
	Phase       interview.Phase `json:"phase"`
	StartedAt   time.Time       `json:"started_at"`
}

// NewSessionRegistry creates a new SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]activeSession)}
}

// Add registers a live session. Returns false if the registry is draining,
// meaning no new sessions should be accepted.
func (sr *SessionRegistry) Add(interviewID string, s *interview.Session) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return false
	}
	sr.wg.Add(1)
	sr.sessions[s.ID()] = activeSession{session: s, interviewID: interviewID, startedAt: time.Now()}
	return true
}

// Done marks a session as finished. Must be called exactly once per successful Add.
func (sr *SessionRegistry) Done(id string) {
	sr.mu.Lock()
	delete(sr.sessions, id)
	sr.mu.Unlock()
	sr.wg.Done()
}

// Get returns a live session by ID.
func (sr *SessionRegistry) Get(id string) (*interview.Session, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	a, ok := sr.sessions[id]
	return a.session, ok
}

// StartDraining sets the draining flag so that future Add calls return false.
func (sr *SessionRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (sr *SessionRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

// ActiveCount returns the number of live sessions.
func (sr *SessionRegistry) ActiveCount() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.sessions)
}

// Active returns snapshots of the live sessions, oldest first.
func (sr *SessionRegistry) Active() []ActiveSession {
	sr.mu.Lock()
	out := make([]ActiveSession, 0, len(sr.sessions))
	for id, a := range sr.sessions {
		out = append(out, ActiveSession{ID: id, InterviewID: a.interviewID, StartedAt: a.startedAt, Phase: a.session.Phase()})
	}
	sr.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// StopAll cancels every live session.
func (sr *SessionRegistry) StopAll() {
	sr.mu.Lock()
	live := make([]*interview.Session, 0, len(sr.sessions))
	for _, a := range sr.sessions {
		live = append(live, a.session)
	}
	sr.mu.Unlock()
	for _, s := range live {
		s.Stop()
	}
}

// Wait blocks until all live sessions have finished.
func (sr *SessionRegistry) Wait() {
	sr.wg.Wait()
}
