package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice tutor engine
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram speech-to-text configuration. An empty key means the
	// recognizer is unavailable and sessions fail with a capability error.
	DeepgramAPIKey    string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel     string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage  string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	CaptureSampleRate int    `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"` // PCM16 mono from the host

	// ElevenLabs text-to-speech configuration
	ElevenLabsAPIKey       string `envconfig:"ELEVENLABS_API_KEY" required:"true"`
	ElevenLabsBaseURL      string `envconfig:"ELEVENLABS_BASE_URL" default:"https://api.elevenlabs.io"`
	ElevenLabsVoiceID      string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModelID      string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_multilingual_v2"`
	ElevenLabsOutputFormat string `envconfig:"ELEVENLABS_OUTPUT_FORMAT" default:"mp3_44100_128"` // mp3_* or pcm_<rate>
	SynthesisTimeoutMs     int    `envconfig:"SYNTHESIS_TIMEOUT_MS" default:"0"`                 // 0 disables the hard deadline

	// Voice settings sent with every synthesis request
	VoiceStability       float64 `envconfig:"VOICE_STABILITY" default:"0.5"`
	VoiceSimilarityBoost float64 `envconfig:"VOICE_SIMILARITY_BOOST" default:"0.75"`
	VoiceStyle           float64 `envconfig:"VOICE_STYLE" default:"0.0"`
	VoiceSpeakerBoost    bool    `envconfig:"VOICE_SPEAKER_BOOST" default:"true"`

	// Dialogue policy. Without an OpenAI key the engine answers with EchoReply.
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	SystemPrompt  string `envconfig:"TUTOR_SYSTEM_PROMPT" default:"You are a patient physics tutor. Answer in two or three spoken sentences."`
	EchoReply     string `envconfig:"ECHO_REPLY" default:"You said: %s"`

	// Optional hosted voice agent used instead of the local pipeline
	RealtimeURL         string `envconfig:"REALTIME_URL" default:""`
	RealtimeAPIKey      string `envconfig:"REALTIME_API_KEY" default:""`
	RealtimeAssistantID string `envconfig:"REALTIME_ASSISTANT_ID" default:""`

	// Playback configuration
	PlaybackSampleRate int `envconfig:"PLAYBACK_SAMPLE_RATE" default:"24000"`
	PlaybackFrameMs    int `envconfig:"PLAYBACK_FRAME_MS" default:"20"`

	// Whiteboard pacing
	WhiteboardMinIntervalMs int `envconfig:"WHITEBOARD_MIN_INTERVAL_MS" default:"100"`
	WhiteboardMaxIntervalMs int `envconfig:"WHITEBOARD_MAX_INTERVAL_MS" default:"300"`
	WhiteboardPerRuneMs     int `envconfig:"WHITEBOARD_PER_RUNE_MS" default:"45"`

	// Waveform animation
	WaveformFrameMs int `envconfig:"WAVEFORM_FRAME_MS" default:"33"`
	WaveformBars    int `envconfig:"WAVEFORM_BARS" default:"24"`

	// Audio processing configuration
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"64000"`    // Bytes held while the recognizer restarts
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Dialogue retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Recognizer restart attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Restart backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if c.ElevenLabsAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	if c.WhiteboardMinIntervalMs <= 0 || c.WhiteboardMaxIntervalMs < c.WhiteboardMinIntervalMs {
		return fmt.Errorf("invalid whiteboard interval bounds: min=%d max=%d",
			c.WhiteboardMinIntervalMs, c.WhiteboardMaxIntervalMs)
	}
	if c.CaptureSampleRate <= 0 || c.PlaybackSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.WaveformFrameMs <= 0 || c.WaveformBars <= 0 {
		return fmt.Errorf("waveform frame interval and bar count must be positive")
	}
	return nil
}

// SynthesisTimeout returns the optional hard deadline for a synthesis call
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.SynthesisTimeoutMs) * time.Millisecond
}
