package commands

import (
	"github.com/spf13/cobra"

	"github.com/chakravyuh/voice-tutor/internal/config"
	"github.com/chakravyuh/voice-tutor/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "voicetutor",
	Short: "Voice tutoring engine",
	Long: `Voice tutoring engine.

Listens to a student, answers through a dialogue policy, speaks the answer
and writes it on a whiteboard in step with the voice.

Required environment:
  ELEVENLABS_API_KEY   speech synthesis
  DEEPGRAM_API_KEY     speech recognition (serve only)

Optional environment:
  OPENAI_API_KEY       tutor replies (echo replies without it)
  REALTIME_URL         hosted voice agent used instead of the local pipeline`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, chatCmd, sayCmd)
}

// loadConfig reads configuration and initializes the logger
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}
	if level != "" {
		cfg.LogLevel = level
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}
