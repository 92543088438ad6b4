package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/dubstudio/internal/audio"
	"github.com/satindergrewal/dubstudio/internal/compositor"
	"github.com/satindergrewal/dubstudio/internal/fetch"
)

var infoCmd = &cobra.Command{
	Use:   "info <audio>",
	Short: "Print the decoded length and WAV header of a clip",
	Long: `Decode a clip and print its length. For WAV files the header fields
are printed too.

Examples:
  studio info line-01.wav
  studio info https://cdn.example/line-01.mp3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s := newLocalStudio(globalConfig)
		info, err := clipInfo(ctx, s.fetch, s.compositor, args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, info)
	},
}

// clipReport is what info prints.
type clipReport struct {
	URL      string         `json:"url"`
	Duration float64        `json:"duration_seconds"`
	WAV      *audio.WAVInfo `json:"wav,omitempty"`
}

func clipInfo(ctx context.Context, f *fetch.Client, c *compositor.Compositor, url string) (*clipReport, error) {
	d, err := c.ClipDuration(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	rep := &clipReport{URL: url, Duration: d}

	data, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if wi, err := audio.ParseWAVInfo(data); err == nil {
		rep.WAV = wi
	} else {
		printVerbose("no canonical WAV header: %v", err)
	}
	return rep, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
