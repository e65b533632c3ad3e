package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// loadRequest loads v from a YAML or JSON file. YAML is converted to JSON
// first so json struct tags apply.
func loadRequest(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
	default:
		if data, err = yaml.YAMLToJSON(data); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// requireInputFile checks if input file is specified
func requireInputFile() error {
	if inputFile == "" {
		return fmt.Errorf("input file is required, use -f flag")
	}
	return nil
}

// outputResult writes result as YAML, or JSON with --json, to -o or stdout.
func outputResult(result any) error {
	data, err := marshal(result, outputJSON)
	if err != nil {
		return err
	}
	if outputFile == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(outputFile); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return os.WriteFile(outputFile, data, 0644)
}

func marshal(v any, asJSON bool) ([]byte, error) {
	// Round-trip through JSON so YAML output uses the json field names.
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	if asJSON {
		return append(data, '\n'), nil
	}
	return yaml.JSONToYAML(data)
}
