package interview

import (
	"fmt"
	"strings"
)

// Origin says where a plan item came from.
type Origin string

const (
	OriginFixed       Origin = "fixed"
	OriginConditional Origin = "conditional_fixed"
	OriginFollowUp    Origin = "ai_follow_up"
)

type ItemStatus string

const (
	StatusPending ItemStatus = "pending"
	StatusAsked   ItemStatus = "asked"
	StatusSkipped ItemStatus = "skipped"
)

// Condition gates a conditional item on an earlier answer lacking elements.
// DependsOn is the ID of the item whose answer is judged.
type Condition struct {
	DependsOn        int      `json:"depends_on"`
	RequiredElements []string `json:"required_elements"`
}

// QuestionItem is one entry of a QuestionPlan. IDs are stable across
// insertions; seed items get IDs equal to their seed position.
type QuestionItem struct {
	ID        int        `json:"id"`
	Text      string     `json:"text"`
	Origin    Origin     `json:"origin"`
	Condition *Condition `json:"condition,omitempty"`
	Status    ItemStatus `json:"status"`
	// Root is the ID of the seed item a follow-up expands on.
	Root int `json:"root"`
}

// ConditionFunc reports whether a conditional item should be asked given
// the recorded answer of its dependency.
type ConditionFunc func(cond Condition, answer string) bool

// AskAlways treats every conditional item as eligible once its dependency
// is answered.
func AskAlways(Condition, string) bool { return true }

// Plan is the ordered, growing list of questions for one session.
// cursor is the position of the current item, -1 before the first.
// A Plan is owned by the session loop and is not safe for concurrent use.
type Plan struct {
	items     []QuestionItem
	cursor    int
	nextID    int
	answers   map[int]string
	followUps map[int]int
}

// NewPlan builds a plan from seed items. IDs and statuses are assigned here.
func NewPlan(seed []QuestionItem) (*Plan, error) {
	p := &Plan{
		items:     make([]QuestionItem, 0, len(seed)),
		cursor:    -1,
		answers:   make(map[int]string),
		followUps: make(map[int]int),
	}
	for i, it := range seed {
		it.Text = strings.TrimSpace(it.Text)
		if it.Text == "" {
			return nil, fmt.Errorf("question %d: empty text", i+1)
		}
		it.ID = i
		it.Root = i
		it.Status = StatusPending
		if it.Origin == "" {
			it.Origin = OriginFixed
		}
		if it.Condition != nil {
			it.Origin = OriginConditional
			c := *it.Condition
			if c.DependsOn < 0 || c.DependsOn >= len(seed) || c.DependsOn == i {
				return nil, fmt.Errorf("question %d: condition refers to unknown question %d", i+1, c.DependsOn+1)
			}
			c.RequiredElements = append([]string(nil), c.RequiredElements...)
			it.Condition = &c
		} else if it.Origin == OriginConditional {
			return nil, fmt.Errorf("question %d: conditional item without condition", i+1)
		}
		p.items = append(p.items, it)
	}
	p.nextID = len(seed)
	return p, nil
}

// Len returns the number of items including follow-ups.
func (p *Plan) Len() int { return len(p.items) }

// Cursor returns the position of the current item.
func (p *Plan) Cursor() int { return p.cursor }

// Items returns a copy of the plan items in order.
func (p *Plan) Items() []QuestionItem {
	out := make([]QuestionItem, len(p.items))
	for i, it := range p.items {
		out[i] = it.clone()
	}
	return out
}

// Current returns the item at the cursor.
func (p *Plan) Current() (QuestionItem, bool) {
	if p.cursor < 0 || p.cursor >= len(p.items) {
		return QuestionItem{}, false
	}
	return p.items[p.cursor].clone(), true
}

// RecordAnswer appends respondent text to the answer of the current item.
func (p *Plan) RecordAnswer(text string) {
	text = strings.TrimSpace(text)
	if text == "" || p.cursor < 0 {
		return
	}
	id := p.items[p.cursor].ID
	if prev := p.answers[id]; prev != "" {
		text = prev + " " + text
	}
	p.answers[id] = text
}

// Answer returns the recorded answer for an item ID.
func (p *Plan) Answer(id int) (string, bool) {
	a, ok := p.answers[id]
	return a, ok && a != ""
}

// Peek returns the next eligible item without moving the cursor.
func (p *Plan) Peek(eligible ConditionFunc) (QuestionItem, bool) {
	i, _ := p.next(eligible)
	if i < 0 {
		return QuestionItem{}, false
	}
	return p.items[i].clone(), true
}

// Advance moves the cursor to the next eligible item and marks it asked.
// Conditional items that can no longer be asked are marked skipped on the way.
func (p *Plan) Advance(eligible ConditionFunc) (QuestionItem, error) {
	i, skipped := p.next(eligible)
	for _, s := range skipped {
		p.items[s].Status = StatusSkipped
	}
	if i < 0 {
		return QuestionItem{}, ErrPlanExhausted
	}
	p.cursor = i
	p.items[i].Status = StatusAsked
	return p.items[i].clone(), nil
}

// InsertFollowUp puts a generated question right after the cursor. It is a
// no-op when an item with the same normalized text exists at or after the
// cursor. It reports whether an item was inserted.
func (p *Plan) InsertFollowUp(text string) bool {
	text = strings.TrimSpace(text)
	key := NormalizeText(text)
	if key == "" {
		return false
	}
	from := max(p.cursor, 0)
	for _, it := range p.items[from:] {
		if NormalizeText(it.Text) == key {
			return false
		}
	}
	root := -1
	if p.cursor >= 0 {
		root = p.items[p.cursor].Root
	}
	item := QuestionItem{
		ID:     p.nextID,
		Text:   text,
		Origin: OriginFollowUp,
		Status: StatusPending,
		Root:   root,
	}
	p.nextID++
	at := p.cursor + 1
	p.items = append(p.items, QuestionItem{})
	copy(p.items[at+1:], p.items[at:])
	p.items[at] = item
	p.followUps[root]++
	return true
}

// FollowUps returns how many follow-ups were inserted for a seed item.
func (p *Plan) FollowUps(root int) int {
	return p.followUps[root]
}

// PendingConditions returns the conditional items whose dependency is
// answered but which have not been asked or skipped yet, with that answer.
func (p *Plan) PendingConditions() []ConditionCheck {
	var out []ConditionCheck
	for _, it := range p.items {
		if it.Status != StatusPending || it.Condition == nil {
			continue
		}
		answer, ok := p.Answer(it.Condition.DependsOn)
		if !ok {
			continue
		}
		dep, _ := p.byID(it.Condition.DependsOn)
		out = append(out, ConditionCheck{
			Item:      it.clone(),
			Question:  dep.Text,
			Answer:    answer,
			Condition: *it.Condition,
		})
	}
	return out
}

// ConditionCheck is a conditional item ready to be judged.
type ConditionCheck struct {
	Item      QuestionItem
	Question  string
	Answer    string
	Condition Condition
}

type gate int

const (
	gateAsk gate = iota
	gateDefer
	gateSkip
)

// next finds the next item to ask. Deferred conditional items left behind
// the cursor come first once their dependency has been answered, so they
// follow their dependency as closely as possible.
func (p *Plan) next(eligible ConditionFunc) (int, []int) {
	if eligible == nil {
		eligible = AskAlways
	}
	var skipped []int
	for i := 0; i <= p.cursor && i < len(p.items); i++ {
		it := p.items[i]
		if it.Status != StatusPending || it.Condition == nil {
			continue
		}
		switch p.gate(it, eligible) {
		case gateAsk:
			return i, skipped
		case gateSkip:
			skipped = append(skipped, i)
		}
	}
	for i := p.cursor + 1; i < len(p.items); i++ {
		it := p.items[i]
		if it.Status != StatusPending {
			continue
		}
		if it.Condition == nil {
			return i, skipped
		}
		switch p.gate(it, eligible) {
		case gateAsk:
			return i, skipped
		case gateSkip:
			skipped = append(skipped, i)
		}
	}
	return -1, skipped
}

func (p *Plan) gate(it QuestionItem, eligible ConditionFunc) gate {
	dep, ok := p.byID(it.Condition.DependsOn)
	if !ok {
		return gateSkip
	}
	answer, answered := p.Answer(dep.ID)
	if !answered {
		// The dependency may still be asked later; otherwise it never will be.
		if dep.Status == StatusPending {
			return gateDefer
		}
		return gateSkip
	}
	if eligible(*it.Condition, answer) {
		return gateAsk
	}
	return gateSkip
}

func (p *Plan) byID(id int) (QuestionItem, bool) {
	for _, it := range p.items {
		if it.ID == id {
			return it, true
		}
	}
	return QuestionItem{}, false
}

func (it QuestionItem) clone() QuestionItem {
	if it.Condition != nil {
		c := *it.Condition
		c.RequiredElements = append([]string(nil), c.RequiredElements...)
		it.Condition = &c
	}
	return it
}
