package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/dubstudio/internal/config"
)

var (
	// Global flags
	cfgFile    string
	inputFile  string
	outputFile string
	verbose    bool

	globalConfig config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Dubbing studio signal tools",
	Long: `dubstudio - extract, composite and recombine audio for video dubbing.

The same operations are available as one-shot commands and, through
'studio serve', as background jobs over HTTP.

Examples:
  # Pull the soundtrack out of a video
  studio extract talk.mp4 -o talk.wav

  # Place translated clips on a 42s timeline
  studio merge -f segments.yaml -o dubbed.wav

  # Record the video with the new track
  studio replace talk.mp4 dubbed.wav -o talk-dubbed.webm
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (env vars still take precedence)")
	rootCmd.PersistentFlags().StringVarP(&inputFile, "file", "f", "", "segments file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print progress")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(replaceCmd)
	rootCmd.AddCommand(dubCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(stretchCmd)
}

func initConfig() error {
	if cfgFile == "" {
		globalConfig = config.Load()
		return globalConfig.Validate()
	}
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	globalConfig = cfg
	return nil
}

// printVerbose prints progress output if enabled
func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
