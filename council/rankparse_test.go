package council

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bundleFixture(t *testing.T, n int) *AnonymizedBundle {
	t.Helper()
	return newAnonymizedBundle(rand.New(rand.NewSource(42)), stage1Fixture(n))
}

func TestParseJudgeJSON_Valid(t *testing.T) {
	t.Parallel()

	b := bundleFixture(t, 2)
	raw := fmt.Sprintf(`{
		"evaluations": [
			{"label": "%s", "pros": ["clear"], "cons": ["terse"]},
			{"label": "%s", "pros": ["deep"], "cons": ["long"]}
		],
		"final_ranking": ["%s", "%s"],
		"failure_modes_top1": ["may be stale"],
		"verification_steps": ["check a primary source"]
	}`, b.Labels[0], b.Labels[1], b.Labels[1], b.Labels[0])

	out, err := parseJudgeJSON(raw, b)
	require.NoError(t, err)
	assert.Equal(t, []string{b.Labels[1], b.Labels[0]}, out.FinalRanking)
	assert.Equal(t, []string{"check a primary source"}, out.VerificationSteps)
}

func TestParseJudgeJSON_FencedBody(t *testing.T) {
	t.Parallel()

	b := bundleFixture(t, 2)
	raw := fmt.Sprintf("```json\n{\"evaluations\": [], \"final_ranking\": [\"%s\", \"%s\"], \"failure_modes_top1\": [], \"verification_steps\": []}\n```",
		b.Labels[0], b.Labels[1])

	out, err := parseJudgeJSON(raw, b)
	require.NoError(t, err)
	assert.Len(t, out.FinalRanking, 2)
}

func TestParseJudgeJSON_Rejections(t *testing.T) {
	t.Parallel()

	b := bundleFixture(t, 3)
	cases := map[string]string{
		"not json":      "I think Response A is best",
		"empty ranking": `{"final_ranking": []}`,
		"unknown label": `{"final_ranking": ["Response A", "Response B", "Response Z"]}`,
		"duplicate":     `{"final_ranking": ["Response A", "Response A", "Response B"]}`,
		"incomplete":    `{"final_ranking": ["Response A", "Response B"]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseJudgeJSON(raw, b)
			assert.Error(t, err)
		})
	}
}

func TestParseOrdinalFallback(t *testing.T) {
	t.Parallel()

	b := bundleFixture(t, 3)

	raw := "My ranking:\n1. Response B is the strongest\n2. Response C\n3. Response A trails"
	order, ok := parseOrdinalFallback(raw, b)
	require.True(t, ok)
	assert.Equal(t, []string{"Response B", "Response C", "Response A"}, order)

	// Repeated mentions keep the first occurrence.
	raw = "Response C wins. Response A next, then Response B. Overall Response C was best."
	order, ok = parseOrdinalFallback(raw, b)
	require.True(t, ok)
	assert.Equal(t, []string{"Response C", "Response A", "Response B"}, order)

	// Missing a label: unusable, vote gets dropped.
	_, ok = parseOrdinalFallback("Response A beats Response B", b)
	assert.False(t, ok)
}

func TestComputeAggregate_BordaScoring(t *testing.T) {
	t.Parallel()

	council := []string{"m1", "m2", "m3"}
	votes := []RankingVote{
		{Reviewer: "m1", ParseOK: true, Ranking: []string{"m2", "m3"}},
		{Reviewer: "m2", ParseOK: true, Ranking: []string{"m3", "m1"}},
		{Reviewer: "m3", ParseOK: true, Ranking: []string{"m2", "m1"}},
	}

	agg := computeAggregate(votes, council)
	require.Len(t, agg, 3)

	// m2: 2+2=4, m3: 1+2=3, m1: 1+1=2.
	assert.Equal(t, "m2", agg[0].Model)
	assert.Equal(t, 4, agg[0].Score)
	assert.Equal(t, "m3", agg[1].Model)
	assert.Equal(t, "m1", agg[2].Model)
	assert.Equal(t, 2, agg[2].VoteCount)
	assert.InDelta(t, 1.5, agg[1].AverageRank, 1e-9)
}

func TestComputeAggregate_DropsUnparsedVotes(t *testing.T) {
	t.Parallel()

	votes := []RankingVote{
		{Reviewer: "m1", ParseOK: true, Ranking: []string{"m2", "m3"}},
		{Reviewer: "m2", ParseOK: false, ParseError: "invalid JSON"},
	}
	agg := computeAggregate(votes, []string{"m1", "m2", "m3"})
	require.Len(t, agg, 2)
	for _, e := range agg {
		assert.Equal(t, 1, e.VoteCount)
	}
}

func TestComputeAggregate_TieBreaksByCouncilOrder(t *testing.T) {
	t.Parallel()

	// Symmetric votes: m1 and m2 each get one first and one second place.
	votes := []RankingVote{
		{Reviewer: "a", ParseOK: true, Ranking: []string{"m1", "m2"}},
		{Reviewer: "b", ParseOK: true, Ranking: []string{"m2", "m1"}},
	}

	agg := computeAggregate(votes, []string{"m1", "m2"})
	require.Len(t, agg, 2)
	assert.Equal(t, agg[0].Score, agg[1].Score)
	assert.Equal(t, "m1", agg[0].Model)

	// Reversing council order flips the tie-break.
	agg = computeAggregate(votes, []string{"m2", "m1"})
	assert.Equal(t, "m2", agg[0].Model)
}

func TestComputeAggregate_TieBreakDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	council := []string{"m1", "m2", "m3", "m4"}
	genVote := gen.SliceOfN(4, gen.IntRange(0, 3)).Map(func(perm []int) RankingVote {
		// Build a valid ranking from the generated ints by stable dedup.
		used := make(map[int]bool)
		var ranking []string
		for _, i := range perm {
			if !used[i] {
				used[i] = true
				ranking = append(ranking, council[i])
			}
		}
		return RankingVote{ParseOK: true, Ranking: ranking}
	})

	properties := gopter.NewProperties(parameters)
	properties.Property("aggregate order is reproducible for identical votes", prop.ForAll(
		func(votes []RankingVote) bool {
			first := computeAggregate(votes, council)
			for i := 0; i < 5; i++ {
				again := computeAggregate(votes, council)
				if len(again) != len(first) {
					return false
				}
				for j := range first {
					if first[j] != again[j] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(3, genVote),
	))
	properties.TestingRun(t)
}

func TestDedupVerificationSteps(t *testing.T) {
	t.Parallel()

	votes := []RankingVote{
		{VerificationSteps: []string{"a", "b", ""}},
		{VerificationSteps: []string{"b", "c"}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, dedupVerificationSteps(votes, 12))
	assert.Equal(t, []string{"a", "b"}, dedupVerificationSteps(votes, 2))
}

func TestSanitizeTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Capital Of France", sanitizeTitle(` "Capital Of France" `))
	assert.Equal(t, defaultTitle, sanitizeTitle("  "))

	long := sanitizeTitle("this title is going to be far longer than fifty characters in total")
	assert.Len(t, long, 50)
}
