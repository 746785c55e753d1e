// Package session owns the per-call state machines: the duplex channel to
// the telephony edge, timers, duplicate suppression, the consent flow, and
// cleanup.
package session

import (
	"sync"
	"time"

	"github.com/ann82/havenline/models"
)

// State is a call's lifecycle phase.
type State int

const (
	StateRinging State = iota
	StateActive
	StateAwaitingConsent
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	case StateAwaitingConsent:
		return "awaiting_consent"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Channel is the duplex connection to the telephony edge for one call.
// The owning session is the only writer.
type Channel interface {
	Send(requestID int, text string, endCall bool) error
	Close() error
}

// Named session timers.
const (
	timerDeadline = "response_deadline"
	timerConsent  = "consent_wait"
)

// Session is the state for one active call. All fields behind mu are
// mutated by the Manager only.
type Session struct {
	ID        string
	From      string
	StartTime time.Time

	mu                sync.Mutex
	state             State
	ch                Channel
	lastActivity      time.Time
	lastRequestID     int
	responding        bool
	retries           int
	inactivityStrikes int
	consentAsked      bool
	consentGiven      bool
	finished          bool
	transcript        []models.Turn
	timers            map[string]*time.Timer
	activityStop      chan struct{}
}

// State returns the session's current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the turns recorded so far.
func (s *Session) Transcript() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Turn(nil), s.transcript...)
}

// setTimerLocked arms the named timer, replacing any previous one.
func (s *Session) setTimerLocked(name string, d time.Duration, fn func()) {
	if t, ok := s.timers[name]; ok {
		t.Stop()
	}
	s.timers[name] = time.AfterFunc(d, fn)
}

func (s *Session) cancelTimerLocked(name string) {
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// cancelAllLocked stops every timer the session owns, including the
// activity monitor. Transitioning out of a state cancels atomically.
func (s *Session) cancelAllLocked() {
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	if s.activityStop != nil {
		close(s.activityStop)
		s.activityStop = nil
	}
}

func (s *Session) appendTurnLocked(role, content string, max int) {
	s.transcript = append(s.transcript, models.Turn{Role: role, Content: content, Time: time.Now()})
	if len(s.transcript) > max {
		s.transcript = s.transcript[len(s.transcript)-max:]
	}
}
