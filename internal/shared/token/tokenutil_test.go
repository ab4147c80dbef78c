package tokenutil

import (
	"strings"
	"testing"
)

func TestEstimateChars(t *testing.T) {
	cases := map[string]int{
		"":      0,
		"a":     1,
		"abcd":  1,
		"abcde": 2,
		"日本語です": 2,
	}
	for text, want := range cases {
		if got := EstimateChars(text); got != want {
			t.Errorf("EstimateChars(%q) = %d, want %d", text, got, want)
		}
	}
}

func TestCountTokens(t *testing.T) {
	if got := CountTokens(""); got != 0 {
		t.Errorf("CountTokens(\"\") = %d, want 0", got)
	}
	got := CountTokens("hello world")
	if got <= 0 {
		t.Fatalf("CountTokens(\"hello world\") = %d, want > 0", got)
	}
	if Available() && got != 2 {
		t.Errorf("CountTokens(\"hello world\") = %d, want 2 with tiktoken", got)
	}
}

func TestTruncateToFit(t *testing.T) {
	text := strings.Repeat("abcd", 10)
	got := TruncateToFit(text, 3, EstimateChars)
	if got != "abcdabcdabcd" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if TruncateToFit(text, 0, EstimateChars) != "" {
		t.Fatalf("expected empty result for zero budget")
	}
	if TruncateToFit("short", 10, EstimateChars) != "short" {
		t.Fatalf("expected fitting text to be unchanged")
	}
}
