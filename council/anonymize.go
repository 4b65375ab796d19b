package council

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// AnonymizedBundle is the peer-review payload for one stage-2 call: each
// successful peer answer under a pseudonymous label, with the label→model
// reverse mapping kept private to the orchestrator. The reviewer's own
// answer is never in the bundle, and the label permutation is re-drawn per
// reviewer so no reviewer can correlate labels across calls.
type AnonymizedBundle struct {
	// Labels in presentation order ("Response A", "Response B", ...).
	Labels []string
	// contents maps label to the peer's stage-1 answer text.
	contents map[string]string
	// reverse maps label to the real model identifier. Never serialized and
	// never included in any provider prompt.
	reverse map[string]string
}

// newAnonymizedBundle assigns a fresh random label permutation over peers.
// The rand source is injected so tests can fix the permutation.
func newAnonymizedBundle(rng *rand.Rand, peers []Stage1Result) *AnonymizedBundle {
	order := rng.Perm(len(peers))

	b := &AnonymizedBundle{
		contents: make(map[string]string, len(peers)),
		reverse:  make(map[string]string, len(peers)),
	}
	for i, j := range order {
		label := fmt.Sprintf("Response %c", 'A'+i)
		b.Labels = append(b.Labels, label)
		b.contents[label] = peers[j].Content
		b.reverse[label] = peers[j].Model
	}
	return b
}

// ModelFor resolves a label back to its model identifier.
func (b *AnonymizedBundle) ModelFor(label string) (string, bool) {
	m, ok := b.reverse[label]
	return m, ok
}

// Models returns the real identifiers in the bundle, sorted for stable use
// in diagnostics.
func (b *AnonymizedBundle) Models() []string {
	out := make([]string, 0, len(b.reverse))
	for _, m := range b.reverse {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Text renders the bundle body for the ranking prompt.
func (b *AnonymizedBundle) Text() string {
	var sb strings.Builder
	for i, label := range b.Labels {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(label)
		sb.WriteString(":\n")
		sb.WriteString(b.contents[label])
	}
	return sb.String()
}

// peersOf filters the successful stage-1 results down to everyone except the
// reviewer. Review covers peers only: a model never sees its own answer.
func peersOf(reviewer string, stage1 []Stage1Result) []Stage1Result {
	peers := make([]Stage1Result, 0, len(stage1))
	for _, r := range stage1 {
		if r.OK && r.Model != reviewer {
			peers = append(peers, r)
		}
	}
	return peers
}
