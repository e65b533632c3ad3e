package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"voice-turns-go/internal/correlation"
	"voice-turns-go/internal/pipeline"
	"voice-turns-go/internal/types"
)

var correlateCmd = &cobra.Command{
	Use:   "correlate <session-id> [job-id]",
	Short: "Record or look up a session's provider job",
	Long: `With a job id, record it as the session's provider job. Without one, look
up the stored mapping or the nearest recent provider session by start time.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		if err := types.ValidateSessionID(sessionID); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 2 {
			if err := a.Correlator.Record(cmd.Context(), sessionID, args[1]); err != nil {
				return err
			}
			return outputResult(map[string]string{"session_id": sessionID, "job_id": args[1]})
		}

		res, err := lookupJob(cmd.Context(), a.DB, a.Correlator, sessionID)
		if err != nil {
			return err
		}
		return outputResult(res)
	},
}

type conversationGetter interface {
	GetConversation(ctx context.Context, sessionID string) (types.Conversation, error)
}

type jobLookup interface {
	Lookup(ctx context.Context, sessionID string, localStart time.Time) (correlation.Resolution, error)
}

// lookupJob correlates against the same anchor a pipeline run would use.
func lookupJob(ctx context.Context, convs conversationGetter, corr jobLookup, sessionID string) (correlation.Resolution, error) {
	conv, err := convs.GetConversation(ctx, sessionID)
	if err != nil {
		return correlation.Resolution{}, err
	}
	return corr.Lookup(ctx, sessionID, pipeline.AnchorTime(conv))
}
