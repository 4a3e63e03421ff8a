package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end speech
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10, // 200ms at 20ms frames
	}
}

// Activity is the result of processing one frame
type Activity struct {
	Level         float64 // 0..1 loudness of the frame
	Speaking      bool
	SpeechStarted bool
	SpeechEnded   bool
}

// VADDetector performs energy-based Voice Activity Detection.
// It is not safe for concurrent use.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame classifies one frame of samples
func (v *VADDetector) ProcessFrame(samples []int16) Activity {
	rms := CalculateRMS(samples)
	act := Activity{Level: Level(rms)}

	if rms > v.config.EnergyThreshold {
		v.silenceCounter = 0
		if !v.isSpeaking {
			act.SpeechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			act.SpeechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	act.Speaking = v.isSpeaking
	return act
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}
