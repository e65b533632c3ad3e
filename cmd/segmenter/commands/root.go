package commands

import (
	"os"

	"github.com/spf13/cobra"

	"voice-turns-go/internal/app"
	"voice-turns-go/internal/config"
	"voice-turns-go/internal/logger"
)

var (
	// Global flags
	cfgFile    string
	outputFile string
	inputFile  string
	outputJSON bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "segmenter",
	Short: "Conversation audio reconstruction and turn segmentation",
	Long: `segmenter fetches the provider's reconstructed recording for a voice
session and cuts it into one clip per conversational turn.

Examples:
  # Store a conversation and the job captured for it
  segmenter ingest -f conversation.yaml --job-id job-123

  # Reconstruct and segment one session
  segmenter run S1 --timeout 10m

  # Process a workbook of sessions and write a report
  segmenter batch sessions.xlsx --report report.xlsx

  # Upload clips left on disk by a previous run
  segmenter retry S1
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (overrides SEGMENTER_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().StringVarP(&inputFile, "file", "f", "", "input file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON instead of YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(correlateCmd)
	rootCmd.AddCommand(retryCmd)
}

func initConfig() {
	if verbose {
		os.Setenv("LOG_LEVEL", "debug")
	}
	if cfgFile != "" {
		os.Setenv("SEGMENTER_CONFIG", cfgFile)
	}
}

// openApp loads configuration and builds the pipeline. Logs go to stderr so
// stdout carries only command output.
func openApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger.NewTo(os.Stderr))
}
