// Command vai-live runs a real-time voice and camera session with a Gemini Live model from
// the terminal.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-live/internal/dotenv"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vai-live",
		Short: "Live voice and video sessions with Gemini",
		Long: `vai-live streams your microphone and camera to a Gemini Live model and plays the
spoken replies back without gaps. Type a line to send text, /interrupt to cut the model off,
and /end (or Ctrl+D) to finish and print the transcript.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if wd, err := os.Getwd(); err == nil {
				if _, err := dotenv.LoadNearest(wd, 8); err != nil {
					return err
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (optional)")
	root.AddCommand(newRunCmd())
	root.AddCommand(newDevicesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
