package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Composite timed clips into one WAV track",
	Long: `Fetch each clip, trim its leading silence and place it at its start
time. A clip is cut where the next one begins.

Example segments file (segments.yaml):
  total_duration: 42
  segments:
    - source_url: https://cdn.example/line-01.wav
      start_time: 0.5
    - source_url: https://cdn.example/line-02.wav
      start_time: 4.2
      target_duration: 3.1

Examples:
  studio merge -f segments.yaml -o dubbed.wav`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireInputFile(); err != nil {
			return err
		}
		var req segmentsFile
		if err := loadRequest(inputFile, &req); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s := newLocalStudio(globalConfig)
		printVerbose("merging %d segments over %.2fs", len(req.Segments), req.TotalDuration)
		wav, err := s.compositor.Merge(ctx, req.Segments, req.TotalDuration, progress("merge"))
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		return writeOutput(wav, outputPath("merged-audio.wav"))
	},
}
