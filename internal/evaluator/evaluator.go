// Package evaluator implements the heuristic quality gate (C5): a pure
// text/metadata scorer, an optional executable code-test scorer, and an
// optional judge-model consultation for borderline outputs.
package evaluator

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mhingston/switchboard/internal/router"
)

// Result is the evaluator's verdict.
type Result struct {
	Score   float64
	Details string
}

var refusalPhrases = []string{
	"i can't",
	"i cannot",
	"i am not able",
	"i'm not able",
	"as an ai",
	"i do not have the ability",
	"i cannot comply",
	"unable to help",
}

var fencedCodeBlock = regexp.MustCompile("```")
var unifiedDiffMarker = regexp.MustCompile(`(?m)^(---|\+\+\+|@@) `)
var filePathHint = regexp.MustCompile(`(?i)(src/|lib/|tests/)|\.(ts|js|py|go)\b`)
var urlLikeToken = regexp.MustCompile(`https?://|www\.`)

// Evaluate scores generated text against the spec's heuristic rubric.
// Pure over (text, req.TaskType, hasToolCalls).
func Evaluate(text string, taskType router.TaskType, hasToolCalls bool) Result {
	if text == "" && !hasToolCalls {
		return Result{Score: 0, Details: "empty response"}
	}

	base := 0.35
	if hasToolCalls {
		base = 0.45
	}
	score := base

	n := len(text)
	switch {
	case n >= 400:
		score += 0.20
	case n >= 120:
		score += 0.15
	case n < 40:
		score -= 0.20
	}

	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			score -= 0.70
			break
		}
	}

	switch taskType {
	case router.TaskCode:
		if fencedCodeBlock.MatchString(text) || unifiedDiffMarker.MatchString(text) {
			score += 0.25
		} else if !hasToolCalls {
			score -= 0.30
		}
		if filePathHint.MatchString(text) {
			score += 0.05
		}
	case router.TaskResearch:
		if urlLikeToken.MatchString(text) {
			score += 0.10
		}
	}

	return Result{Score: clamp01(score), Details: "heuristic"}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ApplyCodeEval runs the configured shell command with a timeout against
// the candidate text and adjusts score accordingly: exit 0 adds weight,
// non-zero subtracts failurePenalty. The command receives the candidate
// text on stdin. Re-clamps to [0,1].
func ApplyCodeEval(ctx context.Context, score float64, cfg *router.CodeEvalConfig, text string) float64 {
	if cfg == nil || len(cfg.Command) == 0 {
		return score
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Stdin = strings.NewReader(text)
	err := cmd.Run()

	if err != nil {
		score -= cfg.FailurePenalty
	} else {
		score += cfg.Weight
	}
	return clamp01(score)
}

// Judger is the narrow capability the judge hook needs from a provider
// adapter: send a prompt, get text back. Satisfied by router.Sender.Send
// wrapped by the caller.
type Judger func(ctx context.Context, prompt string) (string, error)

var scoreToken = regexp.MustCompile(`0(\.\d+)?|1(\.0+)?`)

// ConsultJudge builds a "score 0-1" prompt for the candidate's text and
// parses the first numeric token out of the judge's reply. Judge failures
// (transport error, unparsable reply) are best-effort: the original score
// is returned unchanged.
func ConsultJudge(ctx context.Context, judge Judger, candidateText string, taskType router.TaskType, fallback float64) float64 {
	prompt := buildJudgePrompt(candidateText, taskType)
	reply, err := judge(ctx, prompt)
	if err != nil {
		return fallback
	}
	match := scoreToken.FindString(reply)
	if match == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return fallback
	}
	return clamp01(v)
}

func buildJudgePrompt(candidateText string, taskType router.TaskType) string {
	var b strings.Builder
	b.WriteString("You are grading an AI assistant's response for a task of type \"")
	b.WriteString(string(taskType))
	b.WriteString("\". Score the following response from 0 to 1, where 1 is excellent and 0 is unusable. ")
	b.WriteString("Reply with only the numeric score.\n\nResponse:\n")
	b.WriteString(candidateText)
	return b.String()
}
