package interview

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PlanSeed is everything a session needs to know about its interview
// before the first question is asked.
type PlanSeed struct {
	Title     string
	Objective string
	Persona   string
	Intro     string
	Closing   string
	Questions []QuestionItem
}

var (
	numberedLine = regexp.MustCompile(`^\s*(?:\d+|[０-９]+)\s*[.)．、:：]\s*`)
	conditionJA  = regexp.MustCompile(`^\[\s*条件\s*[:：]\s*質問\s*(\d+|[０-９]+)\s*で\s*(.+?)\s*が得られなかった場合\s*\]\s*(.+)$`)
	conditionEN  = regexp.MustCompile(`(?i)^\[\s*if\s+q(?:uestion)?\s*(\d+)\s+lacks\s+(.+?)\s*\]\s*(.+)$`)
	elementSep   = regexp.MustCompile(`\s*(?:[・、,，/]|\band\b)\s*`)
)

// ParsePlanSeed parses the question list format used by interview authors:
// one question per line, optionally numbered ("1. ..."), with conditional
// questions written as
//
//	[条件: 質問1 で 会社・役職 が得られなかった場合] 役職を教えてください
//	[if Q1 lacks company, role] What is your role?
//
// Question numbers in conditions are 1-based positions in the list.
func ParsePlanSeed(text string) ([]QuestionItem, error) {
	var items []QuestionItem
	for n, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = numberedLine.ReplaceAllString(line, "")

		m := conditionJA.FindStringSubmatch(line)
		if m == nil {
			m = conditionEN.FindStringSubmatch(line)
		}
		if m == nil {
			items = append(items, QuestionItem{Text: line, Origin: OriginFixed})
			continue
		}

		ref, err := strconv.Atoi(toASCIIDigits(m[1]))
		if err != nil || ref < 1 {
			return nil, fmt.Errorf("line %d: invalid question number %q", n+1, m[1])
		}
		elements := splitElements(m[2])
		if len(elements) == 0 {
			return nil, fmt.Errorf("line %d: condition lists no elements", n+1)
		}
		items = append(items, QuestionItem{
			Text:   strings.TrimSpace(m[3]),
			Origin: OriginConditional,
			Condition: &Condition{
				DependsOn:        ref - 1,
				RequiredElements: elements,
			},
		})
	}
	for i, it := range items {
		if it.Condition != nil && it.Condition.DependsOn >= len(items) {
			return nil, fmt.Errorf("question %d: condition refers to question %d of %d", i+1, it.Condition.DependsOn+1, len(items))
		}
	}
	return items, nil
}

func splitElements(s string) []string {
	var out []string
	for _, e := range elementSep.Split(s, -1) {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func toASCIIDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return '0' + (r - '０')
		}
		return r
	}, s)
}

// InterviewMeta describes an interview for the spoken introduction.
type InterviewMeta struct {
	AccountName     string
	InterviewerName string
	Title           string
	Target          string
	Purpose         string
	Media           string
}

// IntroText renders the default introduction. Empty fields are left out.
func (m InterviewMeta) IntroText() string {
	var b strings.Builder
	b.WriteString("Hello, and thank you for taking the time today.")
	if m.InterviewerName != "" {
		if m.AccountName != "" {
			fmt.Fprintf(&b, " I'm %s, interviewing on behalf of %s.", m.InterviewerName, m.AccountName)
		} else {
			fmt.Fprintf(&b, " I'm %s, and I'll be your interviewer.", m.InterviewerName)
		}
	}
	if m.Title != "" {
		fmt.Fprintf(&b, " Today's interview is about %s.", m.Title)
	}
	if m.Target != "" {
		fmt.Fprintf(&b, " We'd like to hear from you as %s.", strings.TrimSuffix(m.Target, "."))
	}
	if m.Purpose != "" {
		fmt.Fprintf(&b, " The goal is %s.", strings.TrimSuffix(m.Purpose, "."))
	}
	if m.Media != "" {
		fmt.Fprintf(&b, " Your answers will be used for %s.", strings.TrimSuffix(m.Media, "."))
	}
	b.WriteString(" Please answer in your own words, and take your time. Let's begin.")
	return b.String()
}
