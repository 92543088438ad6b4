package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var replaceCmd = &cobra.Command{
	Use:   "replace <video> <audio>",
	Short: "Record a video with a new soundtrack",
	Long: `Play the video and the audio side by side in real time and record both
into WebM. The command takes about as long as the video.

Examples:
  studio replace talk.mp4 dubbed.wav -o talk-dubbed.webm`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s := newLocalStudio(globalConfig)
		res, err := s.recombiner.Replace(ctx, args[0], args[1], progress("replace"))
		if err != nil {
			return fmt.Errorf("replace: %w", err)
		}
		printVerbose("%d frames, %d drift corrections, %s", res.Frames, res.DriftCorrections, res.MimeType)
		return writeOutput(res.Data, outputPath("recombined-video.webm"))
	},
}
