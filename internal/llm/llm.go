package llm

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/lukasbauer/interviewer/internal/interview"
)

// Usage is the token consumption of a client since it was created.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

type usageCounter struct {
	prompt     atomic.Int64
	completion atomic.Int64
}

func (u *usageCounter) add(prompt, completion int) {
	u.prompt.Add(int64(prompt))
	u.completion.Add(int64(completion))
}

func (u *usageCounter) snapshot() Usage {
	return Usage{PromptTokens: u.prompt.Load(), CompletionTokens: u.completion.Load()}
}

// historyText renders turns as numbered question and answer lines.
func historyText(history []interview.Turn) string {
	var b strings.Builder
	q, a := 0, 0
	for _, t := range history {
		if t.Role == interview.RoleInterviewer {
			q++
			fmt.Fprintf(&b, "Q%d: %s\n", q, t.Content)
			continue
		}
		a++
		fmt.Fprintf(&b, "A%d: %s\n", a, t.Content)
	}
	return b.String()
}
