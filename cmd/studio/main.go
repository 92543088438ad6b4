// Package main provides the dubstudio service and CLI.
//
// Usage:
//
//	studio [flags] <command> [args]
//
// Commands:
//
//	serve    - HTTP API, job queue and live monitor
//	extract  - pull the audio track out of a video as WAV
//	merge    - composite timed speech clips into one WAV track
//	replace  - record a video with a new soundtrack as WebM
//	dub      - merge clips over a video and record the result
//
// Configuration:
//
//	Defaults are overlaid by an optional YAML file (--config), then by
//	STUDIO_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/satindergrewal/dubstudio/cmd/studio/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
