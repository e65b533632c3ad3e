package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"voice-turns-go/internal/types"
)

var ingestJobID string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Store a conversation record",
	Long: `Store a conversation record read from a YAML or JSON file.

Example file (conversation.yaml):
  session_id: S1
  started_at: "2025-12-04T10:00:00Z"
  turns:
    - turn_number: 1
      speaker: agent
      message: Hello
      timestamp: "2025-12-04T10:00:02.5Z"
      duration_sec: 1.8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireInputFile(); err != nil {
			return err
		}
		var conv types.Conversation
		if err := loadRequest(inputFile, &conv); err != nil {
			return err
		}
		if conv.SessionID == "" {
			return fmt.Errorf("session_id is required")
		}
		if err := types.ValidateSessionID(conv.SessionID); err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DB.PutConversation(cmd.Context(), conv); err != nil {
			return err
		}
		if ingestJobID != "" {
			if err := a.Correlator.Record(cmd.Context(), conv.SessionID, ingestJobID); err != nil {
				return err
			}
		}
		return outputResult(map[string]any{"session_id": conv.SessionID, "turns": len(conv.Turns), "job_id": ingestJobID})
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestJobID, "job-id", "", "provider job captured for the session")
}
