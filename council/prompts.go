package council

import (
	"fmt"
	"strings"
)

// judgeSchemaExample is embedded in the ranking prompt so reviewers see the
// exact JSON shape expected back.
const judgeSchemaExample = `{"evaluations": [{"label": "Response A", "pros": ["..."], "cons": ["..."]}, {"label": "Response B", "pros": ["..."], "cons": ["..."]}], "final_ranking": ["Response A", "Response B"], "failure_modes_top1": ["..."], "verification_steps": ["..."]}`

// buildRankingPrompt asks one reviewer to rank its anonymized peers.
func buildRankingPrompt(query string, bundle *AnonymizedBundle) string {
	return fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s

Return ONLY valid JSON matching this exact schema (no markdown, no extra text):
%s

Rules:
- "evaluations" must include one entry per response label present above.
- "final_ranking" must be a list of the response labels from best to worst.
- "failure_modes_top1" must list likely failure modes of the top-ranked response.
- "verification_steps" must list concrete steps a user can take to verify the top-ranked response.
`, query, bundle.Text(), judgeSchemaExample)
}

// buildCorrectionPrompt re-asks a reviewer whose output failed validation.
func buildCorrectionPrompt(previous string, parseErr error) string {
	return fmt.Sprintf(`Your previous output was invalid.
You MUST output ONLY valid JSON matching this schema:
%s

Here was your previous output:
%s

Error:
%v
`, judgeSchemaExample, previous, parseErr)
}

// buildChairmanPrompt constructs the synthesis prompt. Stage-1 answers are
// attributed by real identity here; anonymity applies to peer review only.
func buildChairmanPrompt(query string, stage1 []Stage1Result, stage2 *Stage2Result) string {
	var stage1Text strings.Builder
	for _, r := range stage1 {
		if !r.OK {
			continue
		}
		if stage1Text.Len() > 0 {
			stage1Text.WriteString("\n\n")
		}
		fmt.Fprintf(&stage1Text, "Model: %s\nResponse: %s", r.Model, r.Content)
	}

	var stage2Text strings.Builder
	for _, v := range stage2.Votes {
		if stage2Text.Len() > 0 {
			stage2Text.WriteString("\n\n")
		}
		fmt.Fprintf(&stage2Text, "Model: %s\nRanking: %s", v.Reviewer, v.RawText)
	}

	var aggregateText strings.Builder
	for i, e := range stage2.Aggregate {
		if i > 0 {
			aggregateText.WriteString("\n")
		}
		fmt.Fprintf(&aggregateText, "%d. %s (score %d, avg rank %.2f, votes %d)",
			i+1, e.Model, e.Score, e.AverageRank, e.VoteCount)
	}
	if aggregateText.Len() == 0 {
		aggregateText.WriteString("No votes could be counted.")
	}

	verification := dedupVerificationSteps(stage2.Votes, 12)
	var verificationText string
	if len(verification) > 0 {
		var sb strings.Builder
		sb.WriteString("\n\nJudges suggested verification steps:\n")
		for _, s := range verification {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
		verificationText = strings.TrimRight(sb.String(), "\n")
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Peer Rankings:
%s

STAGE 2 - Aggregate Ranking (Borda count, best first):
%s%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question.

When relevant, include a short "Verification checklist" section with concrete steps the user can take to validate the answer.
`, query, stage1Text.String(), stage2Text.String(), aggregateText.String(), verificationText)
}

// dedupVerificationSteps collects the judges' verification steps in first-seen
// order, capped at limit.
func dedupVerificationSteps(votes []RankingVote, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range votes {
		for _, s := range v.VerificationSteps {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

// buildTitlePrompt asks for a short conversation title.
func buildTitlePrompt(query string) string {
	return fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, query)
}

// defaultTitle is used when title generation fails; the turn itself is
// unaffected.
const defaultTitle = "New Conversation"

// sanitizeTitle trims quoting and clamps the title length. Truncation is on
// runes so a multi-byte title never ends in a broken sequence.
func sanitizeTitle(raw string) string {
	title := strings.Trim(strings.TrimSpace(raw), `"'`)
	if title == "" {
		return defaultTitle
	}
	if r := []rune(title); len(r) > 50 {
		title = string(r[:47]) + "..."
	}
	return title
}
