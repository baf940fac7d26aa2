package interview

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText folds width, case and whitespace so that "Ｗhat  is it?" and
// "what is it?" compare equal.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// runeLen counts letters and digits, ignoring spaces and punctuation.
func runeLen(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			n++
		}
	}
	return n
}

// DefaultRepeatPhrases are requests to hear the current question again.
var DefaultRepeatPhrases = []string{
	"repeat that",
	"repeat the question",
	"say that again",
	"say it again",
	"come again",
	"once more",
	"one more time",
	"didn't catch",
	"didn't hear",
	"もう一度",
	"もう1度",
	"もういちど",
	"聞き取れ",
	"聞こえなかった",
	"繰り返して",
}

// maxRepeatRequestRunes keeps long answers that merely mention a phrase
// from being treated as a repeat request.
const maxRepeatRequestRunes = 60

// MatchesRepeatRequest reports whether text is a request to re-read the question.
func MatchesRepeatRequest(text string, phrases []string) bool {
	n := NormalizeText(text)
	if n == "" || utf8.RuneCountInString(n) > maxRepeatRequestRunes {
		return false
	}
	for _, p := range phrases {
		if p = NormalizeText(p); p != "" && strings.Contains(n, p) {
			return true
		}
	}
	return false
}
