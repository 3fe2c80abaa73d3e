// Package taskinfer implements the heuristic task-type classifier (C9): a
// lowercased keyword scan over the prompt, with support for an explicit
// override from the caller.
package taskinfer

import (
	"strings"

	"github.com/mhingston/switchboard/internal/router"
)

var codeKeywords = []string{
	"stack trace", "error", "exception", "refactor", "implement", "bug", "typescript", "javascript",
}

var rewriteKeywords = []string{
	"summarize", "rewrite", "rephrase", "tone", "polish",
}

var researchKeywords = []string{
	"latest", "source", "sources", "compare", "research", "cite",
}

var knownTaskTypes = map[router.TaskType]struct{}{
	router.TaskCode:      {},
	router.TaskRewrite:   {},
	router.TaskResearch:  {},
	router.TaskReasoning: {},
}

// Infer classifies prompt text into one of {code, rewrite, research,
// reasoning}. override, when it names a known task type, short-circuits
// the scan entirely.
func Infer(prompt string, override router.TaskType) router.TaskType {
	if _, ok := knownTaskTypes[override]; ok {
		return override
	}

	lower := strings.ToLower(prompt)

	if strings.Contains(lower, "```") || containsAny(lower, codeKeywords) {
		return router.TaskCode
	}
	if containsAny(lower, rewriteKeywords) {
		return router.TaskRewrite
	}
	if containsAny(lower, researchKeywords) {
		return router.TaskResearch
	}
	return router.TaskReasoning
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
