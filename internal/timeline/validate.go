package timeline

import (
	"fmt"
	"time"

	"voice-turns-go/internal/types"
)

// Issue describes one ordering or parse problem in a turn sequence.
type Issue struct {
	TurnNumber int    `json:"turn_number"`
	Message    string `json:"message"`
}

type Report struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues,omitempty"`
}

// Validate checks that every timestamp parses and that timestamps strictly
// increase between adjacent turns. It is advisory; callers decide whether
// to act on the report.
func Validate(turns []types.TurnRecord) Report {
	var issues []Issue
	parsed := make([]time.Time, len(turns))
	ok := make([]bool, len(turns))
	for i, t := range turns {
		ts, err := types.ParseTimestamp(t.Timestamp)
		if err != nil {
			issues = append(issues, Issue{
				TurnNumber: t.TurnNumber,
				Message:    fmt.Sprintf("unparsable timestamp %q", t.Timestamp),
			})
			continue
		}
		parsed[i], ok[i] = ts, true
	}
	for i := 0; i+1 < len(turns); i++ {
		if !ok[i] || !ok[i+1] {
			continue
		}
		if !parsed[i].Before(parsed[i+1]) {
			issues = append(issues, Issue{
				TurnNumber: turns[i+1].TurnNumber,
				Message: fmt.Sprintf("timestamp %s not after turn %d (%s)",
					turns[i+1].Timestamp, turns[i].TurnNumber, turns[i].Timestamp),
			})
		}
	}
	return Report{Valid: len(issues) == 0, Issues: issues}
}
