package research

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparka-ai/deepresearch/internal/llm"
)

func TestReportRetriesWithTruncatedFindingsOnContextLength(t *testing.T) {
	h := newHarness()
	long := strings.Repeat("x", 1000)
	h.llm.on("compress-research", func(llm.Request, string, int) (string, error) {
		return long, nil
	})
	var promptLens []int
	h.llm.on("final-report", func(req llm.Request, _ string, n int) (string, error) {
		promptLens = append(promptLens, len(req.Prompt))
		if n < 3 {
			return "", llm.ErrContextLength
		}
		return "# Report", nil
	})

	res, err := h.run(context.Background(), testConfig(), WithPlanner(staticPlanner{"a"}))
	require.NoError(t, err)
	assert.Equal(t, "# Report", res.Report.Content)
	require.Len(t, promptLens, 3)
	assert.Less(t, promptLens[1], promptLens[0])
	assert.Less(t, promptLens[2], promptLens[1])
}

func TestReportGivesUpAfterTruncationLimit(t *testing.T) {
	h := newHarness()
	h.llm.on("final-report", func(llm.Request, string, int) (string, error) {
		return "", llm.ErrContextLength
	})

	_, err := h.run(context.Background(), testConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.ErrorIs(t, err, llm.ErrContextLength)
	assert.Equal(t, 1+maxReportTruncations, h.llm.count("final-report"))
}

func TestFindingsBlocksFlagPlaceholders(t *testing.T) {
	blocks := findingsBlocks([]Findings{
		{Index: 0, Question: "a", Status: UnitCompleted, Text: "alpha"},
		{Index: 1, Question: "b", Status: UnitFailed, Placeholder: true},
	})
	assert.Equal(t, "## Research task 1: a\nalpha", blocks[0])
	assert.True(t, strings.HasPrefix(blocks[1], "## Research task 2: b\n[MISSING"))

	cut := truncateBlocks(blocks, []Findings{{}, {Placeholder: true}}, 0.5)
	assert.Len(t, cut[0], len(blocks[0])/2)
	assert.Equal(t, blocks[1], cut[1])
}
