package taskinfer

import (
	"testing"

	"github.com/mhingston/switchboard/internal/router"
	"github.com/stretchr/testify/assert"
)

func TestInferCodeFromFence(t *testing.T) {
	assert.Equal(t, router.TaskCode, Infer("```go\nfoo\n```", ""))
}

func TestInferCodeFromKeyword(t *testing.T) {
	assert.Equal(t, router.TaskCode, Infer("please refactor this function", ""))
}

func TestInferRewrite(t *testing.T) {
	assert.Equal(t, router.TaskRewrite, Infer("please rephrase this paragraph", ""))
}

func TestInferResearch(t *testing.T) {
	assert.Equal(t, router.TaskResearch, Infer("what are the latest papers on this", ""))
}

func TestInferDefaultsToReasoning(t *testing.T) {
	assert.Equal(t, router.TaskReasoning, Infer("why is the sky blue", ""))
}

func TestInferExplicitOverrideWins(t *testing.T) {
	assert.Equal(t, router.TaskRewrite, Infer("please refactor this function", router.TaskRewrite))
}

func TestInferUnknownOverrideIgnored(t *testing.T) {
	assert.Equal(t, router.TaskCode, Infer("please refactor this function", router.TaskType("bogus")))
}

func TestInferCodePriorityOverResearch(t *testing.T) {
	assert.Equal(t, router.TaskCode, Infer("compare this stack trace to the last one", ""))
}
