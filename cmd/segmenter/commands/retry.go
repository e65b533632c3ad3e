package commands

import (
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <session-id>",
	Short: "Re-upload clips left behind by failed uploads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Pipeline.Retry(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return outputResult(res)
	},
}
