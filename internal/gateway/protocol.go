package gateway

import (
	"github.com/chakravyuh/voice-tutor/internal/waveform"
	"github.com/chakravyuh/voice-tutor/internal/whiteboard"
)

// Command types sent by the browser as JSON text frames. Microphone audio
// arrives as binary frames of PCM16 mono at the capture sample rate.
const (
	CmdStart     = "start"
	CmdEnd       = "end"
	CmdMute      = "mute"
	CmdResize    = "resize"
	CmdMicDenied = "mic-denied"
	CmdSay       = "say"
)

// Event types sent to the browser as JSON text frames. Assistant audio is
// sent as binary frames of PCM16 mono at the playback sample rate.
const (
	EventState          = "state"
	EventInterim        = "interim"
	EventTranscript     = "transcript"
	EventMessage        = "message"
	EventSpeechStart    = "speech-start"
	EventSpeechEnd      = "speech-end"
	EventMute           = "mute"
	EventError          = "error"
	EventSessionEnd     = "session-end"
	EventRenderComplete = "render-complete"
	EventWhiteboard     = "whiteboard"
	EventWaveform       = "waveform"
)

// Command is an inbound control message
type Command struct {
	Type string `json:"type"`
	Cols int    `json:"cols,omitempty"`
	Text string `json:"text,omitempty"`
}

// Event is an outbound notification
type Event struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Text    string          `json:"text,omitempty"`
	Speaker string          `json:"speaker,omitempty"`
	Muted   *bool           `json:"muted,omitempty"`
	Error   string          `json:"error,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Fatal   bool            `json:"fatal,omitempty"`
	Op      *whiteboard.Op  `json:"draw,omitempty"`
	Frame   *waveform.Frame `json:"frame,omitempty"`
}
