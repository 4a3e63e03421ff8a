package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced an utterance
type Speaker string

const (
	User      Speaker = "user"
	Assistant Speaker = "assistant"
)

// Utterance is one recorded turn. It is never modified after Append.
type Utterance struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is an append-only, creation-ordered log of utterances
type Store struct {
	mu         sync.RWMutex
	utterances []Utterance
	now        func() time.Time
}

// NewStore creates an empty transcript
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Append records a new utterance and returns it
func (s *Store) Append(speaker Speaker, text string) Utterance {
	u := Utterance{
		ID:        uuid.New().String(),
		Speaker:   speaker,
		Text:      text,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.utterances = append(s.utterances, u)
	s.mu.Unlock()
	return u
}

// All returns a copy of every utterance in order
func (s *Store) All() []Utterance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Utterance, len(s.utterances))
	copy(out, s.utterances)
	return out
}

// Len returns the number of utterances
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.utterances)
}

// Last returns the most recent utterance
func (s *Store) Last() (Utterance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.utterances) == 0 {
		return Utterance{}, false
	}
	return s.utterances[len(s.utterances)-1], true
}

// BySpeaker returns the utterances of one speaker in order
func (s *Store) BySpeaker(speaker Speaker) []Utterance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Utterance
	for _, u := range s.utterances {
		if u.Speaker == speaker {
			out = append(out, u)
		}
	}
	return out
}
