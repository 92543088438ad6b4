package commands

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/dubstudio/internal/compositor"
)

// segmentsFile is the request format of merge and dub. JSON files parse
// as YAML too.
type segmentsFile struct {
	VideoURL      string               `yaml:"video_url"`
	TotalDuration float64              `yaml:"total_duration"`
	Segments      []compositor.Segment `yaml:"segments"`
}

// loadRequest loads a request from a YAML or JSON file
func loadRequest(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read request file: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse request file %s: %w", path, err)
	}
	return nil
}

// requireInputFile checks if input file is provided
func requireInputFile() error {
	if inputFile == "" {
		return fmt.Errorf("input file is required, use -f flag")
	}
	return nil
}

// outputPath returns the -o flag or fallback.
func outputPath(fallback string) string {
	if outputFile != "" {
		return outputFile
	}
	return fallback
}

// writeOutput writes data and reports where it went.
func writeOutput(data []byte, path string) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("%s (%s)\n", path, formatBytes(len(data)))
	return nil
}

// progress returns a callback that prints whole-percent steps in verbose mode.
func progress(label string) func(float64) {
	last := -1
	return func(p float64) {
		if int(p) == last {
			return
		}
		last = int(p)
		printVerbose("[%s] %3d%%", label, last)
	}
}

// formatBytes formats bytes to human readable string
func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
