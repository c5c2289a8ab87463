package chat

import (
	"sync"
	"time"
)

// fallbackState tracks the "ask once, then decline" rule across a turn pair.
// None means the last exchange was answered; Asked means one clarifying
// question has been spent; Declined means the session was just refused and the
// next unanswerable turn starts over with a fresh question. A successful
// answer resets the state to None.
type fallbackState int

const (
	fallbackNone fallbackState = iota
	fallbackAsked
	fallbackDeclined
)

// Session holds one citizen's conversation. Turns of a single session are
// processed strictly in arrival order (the mutex is held for the whole turn);
// distinct sessions share nothing mutable.
type Session struct {
	mu       sync.Mutex
	turns    []Turn
	fallback fallbackState
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) append(role, text string) {
	s.turns = append(s.turns, Turn{Role: role, Text: text, At: time.Now()})
}

// history returns a copy of the recorded turns.
func (s *Session) history() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// History is the exported, lock-taking variant for callers outside a turn.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history()
}

// Sessions is a concurrency-safe registry keyed by opaque session id.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

func (r *Sessions) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		session = NewSession()
		r.sessions[id] = session
	}
	return session
}
