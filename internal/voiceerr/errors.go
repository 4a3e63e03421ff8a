package voiceerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure surfaced to the host
type Kind int

const (
	// Capability means speech recognition is unavailable in this environment
	Capability Kind = iota
	// Permission means microphone access was denied or revoked
	Permission
	// Synthesis means the text-to-speech call failed
	Synthesis
	// Playback means decoding or playing synthesized audio failed
	Playback
	// Recognition means the recognizer reported an error event
	Recognition
	// Dialogue means the reply collaborator failed to produce text
	Dialogue
)

var kindNames = map[Kind]string{
	Capability:  "CapabilityError",
	Permission:  "PermissionError",
	Synthesis:   "SynthesisError",
	Playback:    "PlaybackError",
	Recognition: "RecognitionError",
	Dialogue:    "DialogueError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Fatal reports whether errors of this kind end (or prevent) a session
func (k Kind) Fatal() bool {
	return k == Capability || k == Permission
}

var (
	// ErrUnsupported is wrapped by capability errors
	ErrUnsupported = errors.New("speech recognition not supported")
	// ErrPermissionDenied is wrapped by permission errors
	ErrPermissionDenied = errors.New("microphone permission denied")
)

// Error is the single error type delivered through OnError
type Error struct {
	Kind   Kind
	Op     string // component operation, e.g. "capture.start"
	Status int    // HTTP status for synthesis failures, 0 for transport errors
	Err    error
}

// New builds a classified error
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithStatus builds a synthesis error carrying the HTTP status
func WithStatus(op string, status int, err error) *Error {
	return &Error{Kind: Synthesis, Op: op, Status: status, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: Synthesis}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf extracts the kind of err. Unclassified errors report ok=false.
func KindOf(err error) (Kind, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}

// IsFatal reports whether err should tear the session down
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind.Fatal()
}
