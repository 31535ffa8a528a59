package main

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-live/internal/config"
	"github.com/vango-go/vai-live/pkg/live/capture"
	"github.com/vango-go/vai-live/pkg/live/playback"
)

func newDevicesCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Show the ffmpeg capture and ffplay output commands for this platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			media := config.Default().Media
			if cfg, err := config.Load(cfgFile); err == nil {
				media = cfg.Media
			}
			ff := capture.FFmpegConfig{Path: media.FFmpegPath, GOOS: runtime.GOOS, Mic: media.Mic, Camera: media.Camera}
			out := cmd.OutOrStdout()

			mic, err := capture.MicArgs(ff)
			if err != nil {
				return err
			}
			cam, err := capture.CameraArgs(ff)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "microphone: %s %s\n", ff.Path, strings.Join(mic, " "))
			fmt.Fprintf(out, "camera:     %s %s\n", ff.Path, strings.Join(cam, " "))
			speaker := playback.FFPlayConfig{Path: media.FFplayPath, Volume: media.Volume}
			fmt.Fprintf(out, "speaker:    %s %s\n", media.FFplayPath, strings.Join(playback.FFPlayArgs(speaker), " "))
			if !list {
				return nil
			}
			return listDevices(cmd, ff)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "ask ffmpeg to enumerate the available devices")
	return cmd
}

func listDevices(cmd *cobra.Command, ff capture.FFmpegConfig) error {
	path := ff.Path
	if path == "" {
		path = "ffmpeg"
	}
	var runs [][]string
	switch ff.GOOS {
	case "darwin":
		runs = [][]string{{"-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""}}
	case "linux":
		runs = [][]string{{"-hide_banner", "-sources", "pulse"}, {"-hide_banner", "-sources", "v4l2"}}
	default:
		return fmt.Errorf("device listing is not implemented for %s", ff.GOOS)
	}
	for _, args := range runs {
		c := exec.CommandContext(cmd.Context(), path, args...)
		c.Stdout = cmd.OutOrStdout()
		c.Stderr = cmd.OutOrStdout()
		if err := c.Run(); err != nil {
			// ffmpeg exits non-zero after printing device lists.
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				continue
			}
			return err
		}
	}
	return nil
}
