// Package fitter implements the context-window trimming step (C7): drop
// the oldest non-system messages until the estimated token count fits the
// model's context window, or report that no fit exists.
package fitter

import "github.com/mhingston/switchboard/internal/router"

// Result is a successful fit.
type Result struct {
	Messages     []router.Message
	TrimmedCount int
}

// Fit estimates tokens as ceil(totalChars/4) + maxOutputTokens, counting
// one inter-message separator char per adjacent pair, and repeatedly drops
// the first non-system message until the estimate fits contextTokens. If
// no non-system message remains and it still doesn't fit, ok is false.
//
// Idempotent: fitting already-fitting messages returns TrimmedCount=0 and
// an unchanged message slice.
func Fit(messages []router.Message, contextTokens, maxOutputTokens int) (Result, bool) {
	working := append([]router.Message(nil), messages...)
	trimmed := 0

	for {
		if estimateTokens(working, maxOutputTokens) <= contextTokens {
			return Result{Messages: working, TrimmedCount: trimmed}, true
		}

		idx := firstNonSystem(working)
		if idx < 0 {
			return Result{}, false
		}
		working = append(append([]router.Message(nil), working[:idx]...), working[idx+1:]...)
		trimmed++
	}
}

func firstNonSystem(messages []router.Message) int {
	for i, m := range messages {
		if m.Role != router.RoleSystem {
			return i
		}
	}
	return -1
}

func estimateTokens(messages []router.Message, maxOutputTokens int) int {
	totalChars := 0
	for i, m := range messages {
		totalChars += len(m.Content)
		if i > 0 {
			totalChars++ // inter-message separator
		}
	}
	return ceilDiv(totalChars, 4) + maxOutputTokens
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
