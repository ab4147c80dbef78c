// Package tokenutil counts tokens for working-memory budgeting. The default
// estimate is a character heuristic; CountTokens uses the cl100k_base
// encoding from tiktoken-go when it can be loaded.
package tokenutil

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func loadEncoding() *tiktoken.Tiktoken {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// Available reports whether the tiktoken encoding could be loaded.
func Available() bool {
	return loadEncoding() != nil
}

// EstimateChars returns ceil(runes/4), the budget heuristic used by default.
func EstimateChars(text string) int {
	runes := utf8.RuneCountInString(text)
	return (runes + 3) / 4
}

// CountTokens returns a cl100k_base token count, falling back to
// EstimateChars when the encoding is unavailable.
func CountTokens(text string) int {
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateChars(text)
}

// TruncateToFit returns the longest rune prefix of text whose count under
// estimate does not exceed maxTokens.
func TruncateToFit(text string, maxTokens int, estimate func(string) int) string {
	if maxTokens <= 0 {
		return ""
	}
	if estimate(text) <= maxTokens {
		return text
	}

	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if estimate(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
