package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// StretchedName is the default output of stretch.
const StretchedName = "stretched-audio.wav"

var stretchDuration float64

var stretchCmd = &cobra.Command{
	Use:   "stretch <audio>",
	Short: "Change a clip's speed so it lasts a given time",
	Long: `Resample a clip in time so it plays for about --duration seconds.
Pitch moves with the speed, and the rate change is limited to 0.3x-3x.

Examples:
  studio stretch line-07.wav --duration 2.4 -o line-07-fit.wav`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if stretchDuration <= 0 {
			return errors.New("--duration must be positive")
		}
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s := newLocalStudio(globalConfig)
		wav, err := s.compositor.Stretch(ctx, args[0], stretchDuration)
		if err != nil {
			return fmt.Errorf("stretch: %w", err)
		}
		return writeOutput(wav, outputPath(StretchedName))
	},
}

func init() {
	stretchCmd.Flags().Float64VarP(&stretchDuration, "duration", "d", 0, "target length in seconds")
}
