// Package memory is the per-call conversation context store: what the caller
// and the line were just talking about, so that follow-ups like "do they take
// pets" can be resolved without a fresh classification.
package memory

import (
	"sync"
	"time"

	"github.com/ann82/havenline/models"
)

// QueryContext captures the routing-relevant state of the last turn.
type QueryContext struct {
	Location      string
	Intent        string
	NeedsLocation bool
	Focus         *models.SearchResult
}

// Context is the rolling memory for one call.
type Context struct {
	CallID     string
	LastIntent string
	LastQuery  string
	LastAnswer string
	Last       QueryContext
	History    []models.Turn
	ExpiresAt  time.Time
}

// Store holds conversation contexts keyed by call id. Entries expire after
// a TTL of inactivity and are cleared explicitly when the call ends.
type Store struct {
	mu         sync.RWMutex
	ttl        time.Duration
	maxHistory int
	contexts   map[string]*Context
}

// NewStore creates a store whose entries expire ttl after their last update
// and whose per-call history is capped at maxHistory turns.
func NewStore(ttl time.Duration, maxHistory int) *Store {
	if maxHistory < 1 {
		maxHistory = 20
	}
	return &Store{
		ttl:        ttl,
		maxHistory: maxHistory,
		contexts:   make(map[string]*Context),
	}
}

// Get returns a copy of the context for callID. An expired entry is treated
// as absent and dropped.
func (s *Store) Get(callID string) (Context, bool) {
	s.mu.RLock()
	ctx, ok := s.contexts[callID]
	expired := ok && time.Now().After(ctx.ExpiresAt)
	var out Context
	if ok && !expired {
		out = *ctx
		out.History = append([]models.Turn(nil), ctx.History...)
	}
	s.mu.RUnlock()

	if expired {
		s.Clear(callID)
		return Context{}, false
	}
	return out, ok
}

// Remember records one answered turn for callID, extending its expiry.
// The context is created on the first turn of a call.
func (s *Store) Remember(callID, query, answer string, qc QueryContext) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.contexts[callID]
	if !ok || now.After(ctx.ExpiresAt) {
		ctx = &Context{CallID: callID}
		s.contexts[callID] = ctx
	}
	ctx.LastIntent = qc.Intent
	ctx.LastQuery = query
	ctx.LastAnswer = answer
	// Carry the previous location forward when the new turn has none, so a
	// later utterance can reuse it without restating.
	if qc.Location == "" {
		qc.Location = ctx.Last.Location
	}
	ctx.Last = qc
	ctx.History = append(ctx.History,
		models.Turn{Role: "user", Content: query, Time: now},
		models.Turn{Role: "assistant", Content: answer, Time: now},
	)
	if len(ctx.History) > s.maxHistory {
		ctx.History = ctx.History[len(ctx.History)-s.maxHistory:]
	}
	ctx.ExpiresAt = now.Add(s.ttl)
}

// Touch extends the expiry of callID's context without recording a turn.
func (s *Store) Touch(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.contexts[callID]; ok {
		ctx.ExpiresAt = time.Now().Add(s.ttl)
	}
}

// Clear removes the context for callID. Called when the call reaches a
// terminal status; safe to call when no context exists.
func (s *Store) Clear(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, callID)
}

// Len returns the number of stored contexts, including not-yet-swept
// expired ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// Sweep drops every expired context and returns how many were removed.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ctx := range s.contexts {
		if now.After(ctx.ExpiresAt) {
			delete(s.contexts, id)
			removed++
		}
	}
	return removed
}
