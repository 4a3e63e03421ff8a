package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/conversation"
	"github.com/chakravyuh/voice-tutor/internal/dialogue"
	"github.com/chakravyuh/voice-tutor/internal/engine"
	"github.com/chakravyuh/voice-tutor/internal/synthesis"
	"github.com/chakravyuh/voice-tutor/internal/waveform"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the tutor from the terminal",
	Long: `Talk to the tutor from the terminal.

Each line typed is a student utterance. The reply is spoken on the local
audio device and written on the terminal whiteboard as it is spoken. Lines
typed while the tutor is talking are dropped. End input (Ctrl-D) or
interrupt (Ctrl-C) to finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cols, err := cmd.Flags().GetInt("cols")
		if err != nil {
			return fmt.Errorf("failed to read 'cols' flag: %w", err)
		}
		showWave, err := cmd.Flags().GetBool("waveform")
		if err != nil {
			return fmt.Errorf("failed to read 'waveform' flag: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		waveOut := io.Discard
		if showWave {
			waveOut = cmd.ErrOrStderr()
		}
		return chat(ctx, cfg, cols, cmd.InOrStdin(), cmd.OutOrStdout(), waveOut)
	},
}

func init() {
	chatCmd.Flags().Int("cols", 60, "whiteboard width in terminal cells")
	chatCmd.Flags().Bool("waveform", true, "animate the voice waveform on stderr")
}

func chat(ctx context.Context, cfg *config.Config, cols int, in io.Reader, out, waveOut io.Writer) error {
	synth, err := synthesis.NewClient(cfg)
	if err != nil {
		return err
	}
	player, err := speaker(cfg.PlaybackSampleRate)
	if err != nil {
		return err
	}
	defer player.Close()

	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		fmt.Fprintf(out, format, args...)
		outMu.Unlock()
	}

	lines := newLineCapture(in)
	grid := whiteboard.NewGridCanvas(cols)
	display := engine.DisplayFromConfig(cfg, grid, waveform.NewTerminalSurface(waveOut))
	host := engine.Host{
		Callbacks: conversation.Callbacks{
			OnStateChange: func(from, to conversation.State) {
				if to == conversation.Listening {
					printf("%s ", promptStyle.Render("you>"))
				}
			},
			OnError: func(err error) {
				printf("\n%s\n", errorStyle.Render(err.Error()))
			},
		},
		OnRenderComplete: func() {
			outMu.Lock()
			printBoard(out, grid)
			outMu.Unlock()
		},
	}

	e := engine.New(conversation.Deps{
		Capture:     lines,
		Synthesizer: synth,
		Player:      player,
		Responder:   dialogue.New(cfg),
	}, display, host)
	if err := e.StartSession(ctx); err != nil {
		return err
	}
	defer e.EndSession()

	select {
	case <-ctx.Done():
		return nil
	case <-lines.Done():
	}

	// let the last reply finish
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch e.Snapshot().State {
		case conversation.Listening, conversation.Idle:
			printf("\n")
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
