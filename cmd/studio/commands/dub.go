package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var dubCmd = &cobra.Command{
	Use:   "dub [video]",
	Short: "Merge clips over a video and record the result",
	Long: `Merge the segments over the full length of the video, then record the
video with the merged track. The video comes from the argument or the
segments file's video_url.

Examples:
  studio dub talk.mp4 -f segments.yaml -o talk-dubbed.webm`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireInputFile(); err != nil {
			return err
		}
		var req segmentsFile
		if err := loadRequest(inputFile, &req); err != nil {
			return err
		}
		if len(args) == 1 {
			req.VideoURL = args[0]
		}
		if req.VideoURL == "" {
			return fmt.Errorf("no video given: pass it as an argument or set video_url")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s := newLocalStudio(globalConfig)
		res, err := s.dubber.Dub(ctx, req.VideoURL, req.Segments, progress("dub"))
		if err != nil {
			return fmt.Errorf("dub: %w", err)
		}
		return writeOutput(res.Data, outputPath("dubbed-video.webm"))
	},
}
