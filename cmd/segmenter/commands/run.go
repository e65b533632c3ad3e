package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var runTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Reconstruct one session and cut it into per-turn clips",
	Long: `Correlate the session with its provider job, wait for the reconstruction,
download it and cut one clip per turn. The outcome is printed; pending and
not-found sessions can be run again later.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
		defer cancel()
		out, err := a.Pipeline.Run(ctx, args[0])
		if err != nil {
			return err
		}
		return outputResult(out)
	},
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "overall deadline for the run")
}
