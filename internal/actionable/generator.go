package actionable

import (
	"fmt"
	"strings"

	"voice-turns-go/internal/aggregator"
	"voice-turns-go/internal/pipeline"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// Generate turns batch totals into operator follow-ups.
func Generate(rep aggregator.Report) []ActionCard {
	var cards []ActionCard
	if n := len(rep.UploadBacklog); n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d sessions have clips waiting for upload", n),
			Action:  "Run retry for: " + strings.Join(rep.UploadBacklog, ", "),
			Impact:  "Completes persistence without re-extracting audio",
		})
	}
	if n := rep.ByKind[pipeline.KindPending]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d sessions still reconstructing", n),
			Action:  "Re-run these sessions later or raise POLL_MAX_ATTEMPTS",
			Impact:  "Picks up recordings the provider has not finished",
		})
	}
	if n := rep.ByKind[pipeline.KindNotFound]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d sessions could not be correlated", n),
			Action:  "Record the provider job id at capture time (segmenter correlate)",
			Impact:  "Removes reliance on start-time matching",
		})
	}
	if n := rep.ByKind[pipeline.KindProviderFailure]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d reconstructions failed at the provider", n),
			Action:  "Escalate to the voice provider with the listed job ids",
			Impact:  "These sessions are not retried automatically",
		})
	}
	if rep.Segments > 0 && rep.DoneRate < 0.9 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("Only %.0f%% of segments completed", rep.DoneRate*100),
			Action:  "Check transcoder logs for failing turns",
			Impact:  "Raises per-turn clip coverage",
		})
	}
	if len(cards) == 0 {
		cards = append(cards, ActionCard{
			Insight: "All sessions segmented",
			Action:  "No follow-up needed",
			Impact:  "None",
		})
	}
	return cards
}
