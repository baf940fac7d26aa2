package interview

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ConditionCache memoizes conditional-question judgements per dependency,
// required elements and answer. Resolve runs off the session loop; the
// loop only reads cached values through Eligible.
type ConditionCache struct {
	evaluator SufficiencyEvaluator
	timeout   time.Duration

	mu      sync.Mutex
	results map[string]bool
}

func NewConditionCache(evaluator SufficiencyEvaluator, timeout time.Duration) *ConditionCache {
	return &ConditionCache{
		evaluator: evaluator,
		timeout:   timeout,
		results:   make(map[string]bool),
	}
}

func conditionKey(cond Condition, answer string) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(cond.DependsOn))
	for _, e := range cond.RequiredElements {
		b.WriteByte('|')
		b.WriteString(NormalizeText(e))
	}
	b.WriteByte('#')
	b.WriteString(NormalizeText(answer))
	return b.String()
}

// Cached returns the memoized result, if any.
func (c *ConditionCache) Cached(cond Condition, answer string) (eligible, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	eligible, ok = c.results[conditionKey(cond, answer)]
	return eligible, ok
}

// Eligible is a ConditionFunc. A missing result counts as eligible: when
// in doubt the question is asked.
func (c *ConditionCache) Eligible(cond Condition, answer string) bool {
	eligible, ok := c.Cached(cond, answer)
	return !ok || eligible
}

// Resolve asks the evaluator whether the dependency's answer, in the
// context of the whole history, already supplies the required elements.
// The item is eligible when it does not. Errors are not memoized and
// resolve to eligible.
func (c *ConditionCache) Resolve(ctx context.Context, check ConditionCheck, objective string, history []Turn) (bool, error) {
	if eligible, ok := c.Cached(check.Condition, check.Answer); ok {
		return eligible, nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ev, err := c.evaluator.EvaluateSufficiency(ctx, EvaluationRequest{
		Question:         check.Question,
		Answer:           check.Answer,
		Objective:        objective,
		History:          history,
		RequiredElements: check.Condition.RequiredElements,
	})
	if err != nil {
		return true, err
	}
	eligible := !ev.IsSufficient
	c.mu.Lock()
	c.results[conditionKey(check.Condition, check.Answer)] = eligible
	c.mu.Unlock()
	return eligible, nil
}
