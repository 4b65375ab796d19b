package council

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChairmanPrompt_IncludesAggregateRanking(t *testing.T) {
	t.Parallel()

	stage1 := []Stage1Result{
		{Model: "model-a", Content: "answer a", OK: true},
		{Model: "model-b", Content: "answer b", OK: true},
	}
	stage2 := &Stage2Result{
		Votes: []RankingVote{
			{Reviewer: "model-a", RawText: "ranked b first", ParseOK: true, Ranking: []string{"model-b"}},
			{Reviewer: "model-b", RawText: "ranked a first", ParseOK: true, Ranking: []string{"model-a"}},
		},
		Aggregate: []AggregateEntry{
			{Model: "model-b", Score: 2, AverageRank: 1, VoteCount: 1},
			{Model: "model-a", Score: 1, AverageRank: 1, VoteCount: 1},
		},
	}

	prompt := buildChairmanPrompt("2+2?", stage1, stage2)

	require.Contains(t, prompt, "Aggregate Ranking")
	assert.Contains(t, prompt, "1. model-b (score 2, avg rank 1.00, votes 1)")
	assert.Contains(t, prompt, "2. model-a (score 1, avg rank 1.00, votes 1)")

	// The aggregate section lists the winner before the runner-up.
	assert.Less(t, strings.Index(prompt, "1. model-b"), strings.Index(prompt, "2. model-a"))
}

func TestBuildChairmanPrompt_EmptyAggregate(t *testing.T) {
	t.Parallel()

	stage1 := []Stage1Result{{Model: "model-a", Content: "answer a", OK: true}}
	stage2 := &Stage2Result{
		Votes: []RankingVote{{Reviewer: "model-a", RawText: "gibberish", ParseError: "unparsable"}},
	}

	prompt := buildChairmanPrompt("question", stage1, stage2)
	assert.Contains(t, prompt, "No votes could be counted.")
}

func TestSanitizeTitle_MultibyteTruncation(t *testing.T) {
	t.Parallel()

	title := sanitizeTitle(strings.Repeat("日", 60))
	assert.True(t, utf8.ValidString(title))
	assert.Equal(t, strings.Repeat("日", 47)+"...", title)
}
