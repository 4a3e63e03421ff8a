package capture

import (
	"context"
)

// Handler receives capture events. Any field may be nil. Callbacks run on
// recognizer goroutines and never while the adapter holds its lock.
type Handler struct {
	// OnInterim delivers a partial transcript that supersedes the previous one
	OnInterim func(text string)
	// OnFinal delivers a finished utterance
	OnFinal func(text string)
	// OnError delivers a classified *voiceerr.Error
	OnError func(err error)
	// OnActivity reports the loudness (0..1) of each written frame
	OnActivity func(level float64, speaking bool)
}

// RecognizerEvents is how a Recognizer reports back to the adapter
type RecognizerEvents struct {
	OnResult func(text string, final bool)
	OnError  func(err error)
	// OnEnd fires when the recognizer stops for any reason
	OnEnd func()
}

// Recognizer is one continuous speech-to-text stream
type Recognizer interface {
	// Start opens the stream. Events may arrive on other goroutines as soon
	// as Start returns.
	Start(ctx context.Context, events RecognizerEvents) error
	// Write sends PCM16 mono audio
	Write(pcm []byte) error
	// Stop closes the stream. OnEnd may still fire afterwards.
	Stop() error
}

// RecognizerFactory builds a fresh Recognizer for every start and restart.
// Returning an error wrapping voiceerr.ErrUnsupported marks the environment
// as lacking speech recognition.
type RecognizerFactory func() (Recognizer, error)
