package interview

import (
	"context"
	"log"
	"sync"
	"time"
)

// journal writes persistence calls in the order the session loop enqueued
// them, on its own goroutine. Enqueue never blocks and never drops.
type journal struct {
	store     Persistence
	sessionID string
	timeout   time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	queue   []func(ctx context.Context) error
	closed  bool
	wake    chan struct{}
	drained chan struct{}
}

func newJournal(store Persistence, sessionID string, logger *log.Logger) *journal {
	j := &journal{
		store:     store,
		sessionID: sessionID,
		timeout:   5 * time.Second,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		drained:   make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *journal) appendTurn(t Turn) {
	j.enqueue(func(ctx context.Context) error {
		return j.store.AppendTurn(ctx, j.sessionID, t)
	})
}

func (j *journal) updatePhase(p Phase) {
	j.enqueue(func(ctx context.Context) error {
		return j.store.UpdateSessionPhase(ctx, j.sessionID, p)
	})
}

func (j *journal) enqueue(op func(ctx context.Context) error) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.queue = append(j.queue, op)
	select {
	case j.wake <- struct{}{}:
	default:
	}
	j.mu.Unlock()
}

// close stops accepting writes and waits for queued ones, up to ctx.
func (j *journal) close(ctx context.Context) {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.wake)
	}
	j.mu.Unlock()
	select {
	case <-j.drained:
	case <-ctx.Done():
		j.logger.Printf("interview: session %s: persistence not drained: %v", j.sessionID, ctx.Err())
	}
}

func (j *journal) run() {
	defer close(j.drained)
	for {
		j.mu.Lock()
		batch := j.queue
		j.queue = nil
		closed := j.closed
		j.mu.Unlock()

		for _, op := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
			if err := op(ctx); err != nil {
				j.logger.Printf("interview: session %s: persistence write failed: %v", j.sessionID, err)
			}
			cancel()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-j.wake
	}
}
