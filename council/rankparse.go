package council

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// judgeEvaluation is one per-label assessment in the judge output.
type judgeEvaluation struct {
	Label string   `json:"label"`
	Pros  []string `json:"pros"`
	Cons  []string `json:"cons"`
}

// judgeOutput is the strict JSON schema stage-2 reviewers are asked to emit.
type judgeOutput struct {
	Evaluations       []judgeEvaluation `json:"evaluations"`
	FinalRanking      []string          `json:"final_ranking"`
	FailureModesTop1  []string          `json:"failure_modes_top1"`
	VerificationSteps []string          `json:"verification_steps"`
}

// fenceRe strips a surrounding markdown code fence so a fenced but otherwise
// valid JSON body still parses.
var fenceRe = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*(.*?)\\s*```\\s*$")

// parseJudgeJSON parses and validates the reviewer's raw text against the
// judge schema. The returned error describes the violation for the
// correction re-ask.
func parseJudgeJSON(raw string, bundle *AnonymizedBundle) (*judgeOutput, error) {
	body := raw
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		body = m[1]
	}

	var out judgeOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validateRanking(out.FinalRanking, bundle); err != nil {
		return nil, err
	}
	return &out, nil
}

// validateRanking checks that final_ranking is a complete permutation of the
// bundle's labels.
func validateRanking(ranking []string, bundle *AnonymizedBundle) error {
	if len(ranking) == 0 {
		return fmt.Errorf("final_ranking is empty")
	}
	seen := make(map[string]bool, len(ranking))
	for _, label := range ranking {
		if _, ok := bundle.ModelFor(label); !ok {
			return fmt.Errorf("final_ranking contains unknown label %q", label)
		}
		if seen[label] {
			return fmt.Errorf("final_ranking repeats label %q", label)
		}
		seen[label] = true
	}
	if len(seen) != len(bundle.Labels) {
		return fmt.Errorf("final_ranking covers %d of %d labels", len(seen), len(bundle.Labels))
	}
	return nil
}

var ordinalLabelRe = regexp.MustCompile(`Response [A-Z]`)

// parseOrdinalFallback recovers a ranking from free text by taking labels in
// order of first mention. It only accepts a recovery that mentions every
// bundle label exactly; anything weaker is treated as unparsable and the
// vote is dropped from aggregation.
func parseOrdinalFallback(raw string, bundle *AnonymizedBundle) ([]string, bool) {
	var order []string
	seen := make(map[string]bool)
	for _, label := range ordinalLabelRe.FindAllString(raw, -1) {
		if _, ok := bundle.ModelFor(label); !ok || seen[label] {
			continue
		}
		seen[label] = true
		order = append(order, label)
	}
	if len(order) != len(bundle.Labels) {
		return nil, false
	}
	return order, true
}

// resolveLabels maps a validated label ranking back to model identifiers.
func resolveLabels(labels []string, bundle *AnonymizedBundle) []string {
	models := make([]string, 0, len(labels))
	for _, label := range labels {
		if m, ok := bundle.ModelFor(label); ok {
			models = append(models, m)
		}
	}
	return models
}

// computeAggregate Borda-scores the counted votes: a vote ranking n peers
// awards n points to its first choice down to 1 for its last. Votes that
// failed to parse contribute nothing. Ties break deterministically by
// council order, first-listed wins.
func computeAggregate(votes []RankingVote, councilOrder []string) []AggregateEntry {
	orderIdx := make(map[string]int, len(councilOrder))
	for i, m := range councilOrder {
		orderIdx[m] = i
	}

	scores := make(map[string]int)
	positions := make(map[string][]int)
	for _, v := range votes {
		if !v.ParseOK || len(v.Ranking) == 0 {
			continue
		}
		n := len(v.Ranking)
		for pos, model := range v.Ranking {
			scores[model] += n - pos
			positions[model] = append(positions[model], pos+1)
		}
	}

	entries := make([]AggregateEntry, 0, len(scores))
	for model, score := range scores {
		sum := 0
		for _, p := range positions[model] {
			sum += p
		}
		avg := float64(sum) / float64(len(positions[model]))
		entries = append(entries, AggregateEntry{
			Model:       model,
			Score:       score,
			AverageRank: math.Round(avg*100) / 100,
			VoteCount:   len(positions[model]),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		oi, iok := orderIdx[entries[i].Model]
		oj, jok := orderIdx[entries[j].Model]
		switch {
		case iok && jok:
			return oi < oj
		case iok:
			return true
		case jok:
			return false
		default:
			return strings.Compare(entries[i].Model, entries[j].Model) < 0
		}
	})
	return entries
}
