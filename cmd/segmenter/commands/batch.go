package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"voice-turns-go/internal/actionable"
	"voice-turns-go/internal/aggregator"
	"voice-turns-go/internal/dataset"
)

var (
	batchReport  string
	batchTimeout time.Duration
)

var batchCmd = &cobra.Command{
	Use:   "batch <workbook.xlsx>",
	Short: "Run every session listed in a workbook",
	Long: `Read session ids (and optional provider job ids) from the first sheet of
the workbook, run each session, and write a report workbook with one row per
session and one row per turn segment.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := dataset.LoadSessions(args[0])
		if err != nil {
			return fmt.Errorf("load workbook: %w", err)
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		outcomes := a.Batch(batchTimeout).Run(cmd.Context(), rows)
		rep := aggregator.Aggregate(outcomes)
		cards := actionable.Generate(rep)
		if err := dataset.WriteReport(batchReport, outcomes, rep, cards); err != nil {
			return err
		}
		return outputResult(map[string]any{
			"report":  batchReport,
			"totals":  rep,
			"actions": cards,
		})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchReport, "report", "segmenter-report.xlsx", "report workbook path")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "deadline per session")
}
