package conversation

import (
	"context"
	"time"

	"github.com/chakravyuh/voice-tutor/internal/capture"
	"github.com/chakravyuh/voice-tutor/internal/playback"
	"github.com/chakravyuh/voice-tutor/internal/synthesis"
	"github.com/chakravyuh/voice-tutor/internal/transcript"
)

// State is the controller's position in the turn-taking cycle
type State int

const (
	Idle State = iota
	Starting
	Listening
	Synthesizing
	Speaking
	Error
)

var stateNames = [...]string{"idle", "starting", "listening", "synthesizing", "speaking", "error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Capture is the speech input side of a session
type Capture interface {
	Start(ctx context.Context, h capture.Handler) error
	Stop() error
	Pause()
	Resume()
}

// Synthesizer turns reply text into audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*synthesis.Audio, error)
}

// Player plays one clip at a time and reports natural completion
type Player interface {
	Play(audio *synthesis.Audio) (playback.ClipID, error)
	Stop()
	Mute(muted bool)
	SetOnEnded(fn func(playback.ClipID))
	SetOnError(fn func(playback.ClipID, error))
}

// Session describes one StartSession..EndSession span
type Session struct {
	ID        string
	State     State
	StartedAt time.Time
	EndedAt   *time.Time
	Muted     bool
}

// Snapshot is a consistent view of the controller flags
type Snapshot struct {
	State     State
	Active    bool
	Listening bool
	Speaking  bool
	Muted     bool
	Epoch     uint64
}

// Callbacks are the host notifications. Every field is optional. They are
// delivered in order and never while the controller lock is held, so a
// callback may call back into the controller.
type Callbacks struct {
	OnStateChange func(from, to State)
	OnInterim     func(text string)
	// OnTranscript fires when a user utterance is appended
	OnTranscript func(u transcript.Utterance)
	// OnMessage fires when an assistant utterance is appended
	OnMessage     func(u transcript.Utterance)
	OnSpeechStart func()
	OnSpeechEnd   func()
	OnMuteChange  func(muted bool)
	OnActivity    func(level float64, speaking bool)
	OnError       func(err error)
	// OnSessionEnd fires once per session after it returns to Idle
	OnSessionEnd func()
}
