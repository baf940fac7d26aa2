package interview

import (
	"strings"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Ｗhat  is\tit?", "what is it?"},
		{"  Hello   World ", "hello world"},
		{"ＡＢＣ１２３", "abc123"},
		{"ｶﾀｶﾅ", "カタカナ"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchesRepeatRequest(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Sorry, could you repeat the question?", true},
		{"Can you SAY THAT AGAIN", true},
		{"すみません、もう一度お願いします", true},
		{"I didn't catch that", true},
		{"I work on the platform team", false},
		{"", false},
		{"I once more or less decided to " + strings.Repeat("change careers and ", 4), false},
	}
	for _, tt := range tests {
		if got := MatchesRepeatRequest(tt.text, DefaultRepeatPhrases); got != tt.want {
			t.Errorf("MatchesRepeatRequest(%q) = %t, want %t", tt.text, got, tt.want)
		}
	}
}

func TestRuneLen(t *testing.T) {
	if n := runeLen("a, b! 1"); n != 3 {
		t.Errorf("runeLen = %d, want 3", n)
	}
	if n := runeLen("はい。"); n != 2 {
		t.Errorf("runeLen = %d, want 2", n)
	}
}
