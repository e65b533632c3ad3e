// Package main provides the segmenter CLI.
//
// Usage:
//
//	segmenter [flags] <command> [args]
//
// Commands:
//
//	run        - reconstruct one session and cut it into per-turn clips
//	batch      - run every session listed in a workbook and write a report
//	ingest     - store a conversation record from a YAML or JSON file
//	correlate  - record or look up a session's provider job
//	retry      - re-upload clips left behind by failed uploads
//
// Configuration comes from the environment, a .env file and an optional
// YAML file (--config or SEGMENTER_CONFIG).
package main

import (
	"fmt"
	"os"

	"voice-turns-go/cmd/segmenter/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
