package council

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func stage1Fixture(n int) []Stage1Result {
	results := make([]Stage1Result, n)
	for i := range results {
		results[i] = Stage1Result{
			Model:   fmt.Sprintf("vendor/model-%d", i),
			Content: fmt.Sprintf("answer %d", i),
			OK:      true,
		}
	}
	return results
}

func TestBundle_LabelsAreCompletePermutation(t *testing.T) {
	t.Parallel()

	peers := stage1Fixture(4)
	b := newAnonymizedBundle(rand.New(rand.NewSource(1)), peers)

	require.Len(t, b.Labels, 4)
	assert.Equal(t, []string{"Response A", "Response B", "Response C", "Response D"}, b.Labels)

	seen := make(map[string]bool)
	for _, label := range b.Labels {
		model, ok := b.ModelFor(label)
		require.True(t, ok)
		assert.False(t, seen[model], "model %s assigned twice", model)
		seen[model] = true
	}
	assert.Len(t, seen, 4)
}

func TestBundle_PermutationVariesBySeed(t *testing.T) {
	t.Parallel()

	peers := stage1Fixture(5)
	assignments := make(map[string]bool)
	for seed := int64(0); seed < 20; seed++ {
		b := newAnonymizedBundle(rand.New(rand.NewSource(seed)), peers)
		m, _ := b.ModelFor("Response A")
		assignments[m] = true
	}
	// With 20 fresh permutations over 5 peers, Response A must not always
	// map to the same model.
	assert.Greater(t, len(assignments), 1)
}

func TestBundle_TextContainsEveryPeerUnderItsLabel(t *testing.T) {
	t.Parallel()

	peers := stage1Fixture(3)
	b := newAnonymizedBundle(rand.New(rand.NewSource(7)), peers)
	text := b.Text()
	for _, label := range b.Labels {
		assert.Contains(t, text, label+":")
	}
	for _, p := range peers {
		assert.Contains(t, text, p.Content)
		assert.NotContains(t, text, p.Model, "bundle text leaked a model identity")
	}
}

func TestPeersOf_ExcludesSelfAndFailures(t *testing.T) {
	t.Parallel()

	stage1 := stage1Fixture(3)
	stage1[1].OK = false

	peers := peersOf("vendor/model-0", stage1)
	require.Len(t, peers, 1)
	assert.Equal(t, "vendor/model-2", peers[0].Model)
}

func TestBundle_SelfExclusionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(t, "n")
		seed := rapid.Int64().Draw(t, "seed")
		reviewerIdx := rapid.IntRange(0, n-1).Draw(t, "reviewer")

		stage1 := stage1Fixture(n)
		reviewer := stage1[reviewerIdx].Model

		peers := peersOf(reviewer, stage1)
		b := newAnonymizedBundle(rand.New(rand.NewSource(seed)), peers)

		if len(b.Labels) != n-1 {
			t.Fatalf("bundle has %d labels, want %d", len(b.Labels), n-1)
		}
		for _, label := range b.Labels {
			model, ok := b.ModelFor(label)
			if !ok {
				t.Fatalf("label %s has no mapping", label)
			}
			if model == reviewer {
				t.Fatalf("reviewer %s found its own answer under %s", reviewer, label)
			}
		}
	})
}
