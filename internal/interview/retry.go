package interview

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a controller retries a failed operation.
// Each controller owns one policy and calls it from a single place.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	Backoff     float64       `yaml:"backoff"`

	attempts int
}

// Next records an attempt and returns the delay before it may run.
// ok is false once MaxAttempts retries have been used.
func (p *RetryPolicy) Next() (delay time.Duration, ok bool) {
	if p.attempts >= p.MaxAttempts {
		return 0, false
	}
	delay = p.Delay
	if p.Backoff > 1 {
		for i := 0; i < p.attempts; i++ {
			delay = time.Duration(float64(delay) * p.Backoff)
		}
	}
	p.attempts++
	return delay, true
}

// Attempts returns the number of retries used since the last Reset.
func (p *RetryPolicy) Attempts() int {
	return p.attempts
}

func (p *RetryPolicy) Reset() {
	p.attempts = 0
}

// Do runs fn once and then retries it under a copy of the policy until it
// succeeds, the retries are used up, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.attempts = 0
	for {
		err := fn(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		delay, ok := p.Next()
		if !ok {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
