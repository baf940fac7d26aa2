package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lukasbauer/interviewer/internal/eventlog"
	"github.com/lukasbauer/interviewer/internal/interview"
	"github.com/lukasbauer/interviewer/internal/store"
)

// SessionStore is the persistence the stale session job needs.
type SessionStore interface {
	ListStaleSessions(ctx context.Context, startedBefore time.Time) ([]store.Session, error)
	UpdateSessionPhase(ctx context.Context, sessionID string, phase interview.Phase) error
}

// StaleSessionJob closes sessions that were left open in the database, for
// example when the process died mid-interview. It runs on a configurable
// interval (default: 15 minutes) and marks every session that is older than
// maxAge and not running on this instance as failed.
type StaleSessionJob struct {
	store    SessionStore
	eventLog *eventlog.Logger
	isLive   func(sessionID string) bool
	logger   *log.Logger
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStaleSessionJob creates a new stale session job. isLive reports whether
// a session is still running in this process; it may be nil.
func NewStaleSessionJob(s SessionStore, eventLog *eventlog.Logger, isLive func(string) bool, logger *log.Logger, interval, maxAge time.Duration) *StaleSessionJob {
	if interval == 0 {
		interval = 15 * time.Minute
	}
	if maxAge == 0 {
		maxAge = 3 * time.Hour
	}
	if isLive == nil {
		isLive = func(string) bool { return false }
	}
	return &StaleSessionJob{
		store:    s,
		eventLog: eventLog,
		isLive:   isLive,
		logger:   logger,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *StaleSessionJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("StaleSessionJob: started (interval=%v, max_age=%v)", j.interval, j.maxAge)
}

// Stop gracefully stops the background job.
func (j *StaleSessionJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
	j.logger.Println("StaleSessionJob: stopped")
}

func (j *StaleSessionJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.processAll()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.processAll()
		case <-j.stopCh:
			return
		}
	}
}

// processAll closes stale sessions and returns how many it closed.
func (j *StaleSessionJob) processAll() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sessions, err := j.store.ListStaleSessions(ctx, j.now().Add(-j.maxAge))
	if err != nil {
		j.logger.Printf("StaleSessionJob: failed to list stale sessions: %v", err)
		return 0
	}

	closed := 0
	for _, sess := range sessions {
		if j.isLive(sess.ID) {
			continue
		}
		if err := j.store.UpdateSessionPhase(ctx, sess.ID, interview.PhaseFailed); err != nil {
			j.logger.Printf("StaleSessionJob: failed to close session %s: %v", sess.ID, err)
			continue
		}
		j.eventLog.LogAsync(sess.ID, eventlog.EventSessionEnded, map[string]any{
			"phase":      string(interview.PhaseFailed),
			"last_phase": sess.Phase,
			"error":      "abandoned",
		})
		closed++
	}

	if closed > 0 {
		j.logger.Printf("StaleSessionJob: closed %d abandoned sessions", closed)
	}
	return closed
}
