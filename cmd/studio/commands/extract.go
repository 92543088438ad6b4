package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/dubstudio/internal/media"
)

var extractCmd = &cobra.Command{
	Use:   "extract <video>",
	Short: "Extract the audio track of a video as WAV",
	Long: `Decode the whole audio track of a video and write it as a 16-bit
stereo WAV at the configured sample rate.

The video may be a local path or an http(s) URL.

Examples:
  studio extract talk.mp4
  studio extract https://cdn.example/talk.mp4 -o talk.wav`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s := newLocalStudio(globalConfig)
		path, cleanup, err := s.fetch.Download(ctx, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		af, err := s.extractor.ExtractAudio(ctx, path)
		if err != nil {
			return fmt.Errorf("extract audio: %w", err)
		}
		printVerbose("extracted %.2fs of audio", af.Duration)
		return writeOutput(af.Data, outputPath(media.ExtractedName))
	},
}
