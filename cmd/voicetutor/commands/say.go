package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/playback"
	"github.com/chakravyuh/voice-tutor/internal/schedule"
	"github.com/chakravyuh/voice-tutor/internal/synthesis"
	"github.com/chakravyuh/voice-tutor/internal/waveform"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Speak one sentence while drawing it on the terminal whiteboard",
	Long: `Speak one sentence while drawing it on the terminal whiteboard.

Example:
  voicetutor say "Velocity is speed with a direction."`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cols, err := cmd.Flags().GetInt("cols")
		if err != nil {
			return fmt.Errorf("failed to read 'cols' flag: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return say(ctx, cfg, strings.Join(args, " "), cols, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	sayCmd.Flags().Int("cols", 60, "whiteboard width in terminal cells")
}

func say(ctx context.Context, cfg *config.Config, text string, cols int, out, waveOut io.Writer) error {
	synth, err := synthesis.NewClient(cfg)
	if err != nil {
		return err
	}
	player, err := speaker(cfg.PlaybackSampleRate)
	if err != nil {
		return err
	}
	defer player.Close()

	done := make(chan error, 1)
	player.SetOnEnded(func(playback.ClipID) { done <- nil })
	player.SetOnError(func(_ playback.ClipID, err error) { done <- err })

	clip, err := synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}

	grid := whiteboard.NewGridCanvas(cols)
	board := whiteboard.NewRenderer(grid, schedule.System{}, whiteboard.TimingFromConfig(cfg))
	wave := waveform.NewVisualizerFromConfig(waveform.NewTerminalSurface(waveOut), schedule.System{}, cfg)

	board.SetText(clip.Text)
	if _, err := player.Play(clip); err != nil {
		return err
	}
	board.SetSpeaking(true)
	wave.SetState(true, waveform.Speaking)

	select {
	case err = <-done:
	case <-ctx.Done():
		player.Stop()
		err = ctx.Err()
	}

	board.SetSpeaking(false)
	wave.Stop()
	printBoard(out, grid)
	return err
}
