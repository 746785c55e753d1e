package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ann82/havenline/memory"
	"github.com/ann82/havenline/models"
)

// Responder answers one utterance; it never fails (routing failures are
// absorbed behind it).
type Responder interface {
	Respond(ctx context.Context, callID, text string) *models.Answer
}

// Messenger delivers the consent-gated follow-up text.
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
}

// Summarizer produces the follow-up message body from a call transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []models.Turn) (string, error)
}

// Archiver persists finished-call records.
type Archiver interface {
	SaveCallRecord(ctx context.Context, rec models.CallRecord) (string, error)
}

// Broadcaster pushes live transcript updates to observers.
type Broadcaster interface {
	Broadcast(callID string, message interface{})
}

// ErrUnknownCall is returned for events naming a call id with no session.
var ErrUnknownCall = errors.New("unknown call id")

// Config tunes the per-session timers and retry budgets. Zero values select
// the defaults.
type Config struct {
	ActivityCheckInterval time.Duration // activity monitor tick
	InactivityWindow      time.Duration // silence before a re-prompt
	ResponseDeadline      time.Duration // time budget per routed answer
	MaxResponseRetries    int           // "still working" messages before giving up
	ConsentWait           time.Duration // bounded wait for the consent reply
	SMSAttempts           int
	SMSRetryDelay         time.Duration
	MaxTranscript         int
}

func (c Config) withDefaults() Config {
	if c.ActivityCheckInterval <= 0 {
		c.ActivityCheckInterval = 30 * time.Second
	}
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = 3 * time.Minute
	}
	if c.ResponseDeadline <= 0 {
		c.ResponseDeadline = 8 * time.Second
	}
	if c.MaxResponseRetries <= 0 {
		c.MaxResponseRetries = 2
	}
	if c.ConsentWait <= 0 {
		c.ConsentWait = 30 * time.Second
	}
	if c.SMSAttempts <= 0 {
		c.SMSAttempts = 3
	}
	if c.SMSRetryDelay <= 0 {
		c.SMSRetryDelay = 5 * time.Second
	}
	if c.MaxTranscript <= 0 {
		c.MaxTranscript = 200
	}
	return c
}

// Deps are the manager's collaborators. Messenger, Summarizer, Archiver,
// and Hub are optional; a nil value disables that behavior.
type Deps struct {
	Router     Responder
	Memory     *memory.Store
	Messenger  Messenger
	Summarizer Summarizer
	Archiver   Archiver
	Hub        Broadcaster
	Logger     *zap.Logger
}

const (
	stillWorkingReply = "I'm still looking that up for you, one moment please."
	deadlineApology   = "I'm sorry, I wasn't able to find that in time. Please call back and we'll try again. Goodbye."
	inactivityPrompt  = "Are you still there? Take your time, I'm here when you're ready."
	inactivityGoodbye = "I haven't heard from you in a while, so I'll let you go. Call back any time. Goodbye."
	consentPrompt     = "Before you go, would you like me to text you a summary of what we found today? You can say yes or no."
	consentAck        = "Okay, I'll text that to you shortly. Take care. Goodbye."
	consentDecline    = "No problem, nothing will be sent. Take care. Goodbye."
	fallbackSummary   = "Thank you for calling the Haven support line. If you need help again, call us back any time."
)

var (
	consentNoPattern  = regexp.MustCompile(`(?i)\b(no|nope|don'?t|do not|stop|nothing)\b`)
	consentYesPattern = regexp.MustCompile(`(?i)\b(yes|yeah|yep|sure|okay|ok|please)\b`)
)

var terminalStatuses = map[string]bool{
	"completed": true,
	"ended":     true,
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

// Manager owns the session registry and drives every call's lifecycle.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	router     Responder
	mem        *memory.Store
	sms        Messenger
	summarizer Summarizer
	archiver   Archiver
	hub        Broadcaster
	cfg        Config
	log        *zap.Logger
}

// NewManager wires a session manager from its collaborators.
func NewManager(deps Deps, cfg Config) *Manager {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		sessions:   make(map[string]*Session),
		router:     deps.Router,
		mem:        deps.Memory,
		sms:        deps.Messenger,
		summarizer: deps.Summarizer,
		archiver:   deps.Archiver,
		hub:        deps.Hub,
		cfg:        cfg.withDefaults(),
		log:        log,
	}
}

// CreateSession registers a new call. A retransmitted start event for an
// existing call id is an idempotent no-op: the existing session is returned.
func (m *Manager) CreateSession(callID, from string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[callID]; ok {
		m.log.Debug("duplicate call start ignored", zap.String("call_id", callID))
		return existing, false
	}
	s := &Session{
		ID:           callID,
		From:         from,
		StartTime:    time.Now(),
		state:        StateRinging,
		lastActivity: time.Now(),
		timers:       make(map[string]*time.Timer),
	}
	m.sessions[callID] = s
	m.log.Info("call session created", zap.String("call_id", callID))
	return s, true
}

// Get returns the session for callID, if one exists.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Active returns the number of registered sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AttachChannel binds the duplex channel to the session and starts the
// activity monitor.
func (m *Manager) AttachChannel(callID string, ch Channel) error {
	s, ok := m.Get(callID)
	if !ok {
		return ErrUnknownCall
	}

	s.mu.Lock()
	s.ch = ch
	s.lastActivity = time.Now()
	if s.activityStop != nil {
		close(s.activityStop)
	}
	stop := make(chan struct{})
	s.activityStop = stop
	s.mu.Unlock()

	go m.monitorActivity(s, stop)
	return nil
}

// monitorActivity re-prompts a silent caller each time the inactivity window
// elapses, and force-terminates the call once the retry budget is spent.
func (m *Manager) monitorActivity(s *Session, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.ActivityCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state == StateEnded || s.state == StateError {
				s.mu.Unlock()
				return
			}
			if time.Since(s.lastActivity) < m.cfg.InactivityWindow {
				s.mu.Unlock()
				continue
			}
			s.inactivityStrikes++
			// The previous response id is already complete on the edge, so
			// each prompt goes out under a fresh one.
			s.lastRequestID++
			if s.inactivityStrikes <= m.cfg.MaxResponseRetries {
				m.sendLocked(s, s.lastRequestID, inactivityPrompt, false)
				s.lastActivity = time.Now()
				s.mu.Unlock()
				continue
			}
			m.sendLocked(s, s.lastRequestID, inactivityGoodbye, true)
			s.state = StateEnded
			s.mu.Unlock()
			m.log.Info("session timed out", zap.String("call_id", s.ID))
			m.Cleanup(s.ID)
			return
		}
	}
}

// Touch records activity for callID without processing an utterance, e.g.
// for transcript-only updates from the edge.
func (m *Manager) Touch(callID string) {
	if s, ok := m.Get(callID); ok {
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		m.mem.Touch(callID)
	}
}

// HandleUtterance processes one recognized utterance. A duplicate event
// sharing the in-flight request id is silently dropped. The answer is
// delivered through the duplex channel once the router returns.
func (m *Manager) HandleUtterance(ctx context.Context, callID string, requestID int, text string) error {
	s, ok := m.Get(callID)
	if !ok {
		return ErrUnknownCall
	}

	s.mu.Lock()
	if s.state == StateEnded || s.state == StateError {
		s.mu.Unlock()
		return nil
	}
	s.lastActivity = time.Now()
	s.inactivityStrikes = 0
	if s.state == StateRinging {
		s.state = StateActive
	}

	if s.state == StateAwaitingConsent {
		m.handleConsentLocked(s, requestID, text)
		s.mu.Unlock()
		m.finishCall(callID)
		return nil
	}

	if requestID == s.lastRequestID && s.responding {
		s.mu.Unlock()
		m.log.Debug("duplicate utterance event dropped",
			zap.String("call_id", callID), zap.Int("request_id", requestID))
		return nil
	}

	s.lastRequestID = requestID
	s.responding = true
	s.retries = 0
	s.appendTurnLocked("user", text, m.cfg.MaxTranscript)
	s.setTimerLocked(timerDeadline, m.cfg.ResponseDeadline, func() {
		m.onResponseDeadline(callID, requestID)
	})
	s.mu.Unlock()

	go func() {
		budget := m.cfg.ResponseDeadline * time.Duration(m.cfg.MaxResponseRetries+1)
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
		defer cancel()
		ans := m.router.Respond(rctx, callID, text)
		m.HandleAnswer(callID, requestID, text, ans)
	}()
	return nil
}

// HandleAnswer delivers a routed answer and records the turn. A result for
// a superseded request id, or for a session already ended, is discarded.
func (m *Manager) HandleAnswer(callID string, requestID int, query string, ans *models.Answer) {
	s, ok := m.Get(callID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.state == StateEnded || s.state == StateError || requestID != s.lastRequestID {
		s.mu.Unlock()
		return
	}
	s.cancelTimerLocked(timerDeadline)
	s.responding = false
	s.retries = 0
	s.lastActivity = time.Now()
	s.appendTurnLocked("assistant", ans.Text, m.cfg.MaxTranscript)
	m.sendLocked(s, requestID, ans.Text, ans.EndCall)
	update := m.transcriptUpdateLocked(s, true)
	s.mu.Unlock()

	m.mem.Remember(callID, query, ans.Text, memory.QueryContext{
		Location:      ans.Location,
		Intent:        ans.Intent,
		NeedsLocation: ans.NeedsLocation,
		Focus:         ans.Focus,
	})
	if m.hub != nil {
		m.hub.Broadcast(callID, update)
	}
	m.log.Info("answer delivered",
		zap.String("call_id", callID),
		zap.Int("request_id", requestID),
		zap.String("source", ans.Source),
		zap.Bool("fallback", ans.FallbackUsed),
		zap.Duration("elapsed", ans.Elapsed))
}

// onResponseDeadline fires when an answer is still pending past the
// deadline: re-prompt within the retry budget, then terminate.
func (m *Manager) onResponseDeadline(callID string, requestID int) {
	s, ok := m.Get(callID)
	if !ok {
		return
	}

	s.mu.Lock()
	if !s.responding || s.lastRequestID != requestID ||
		s.state == StateEnded || s.state == StateError {
		s.mu.Unlock()
		return
	}
	s.retries++
	if s.retries <= m.cfg.MaxResponseRetries {
		m.sendLocked(s, requestID, stillWorkingReply, false)
		s.setTimerLocked(timerDeadline, m.cfg.ResponseDeadline, func() {
			m.onResponseDeadline(callID, requestID)
		})
		s.mu.Unlock()
		return
	}
	s.state = StateError
	m.sendLocked(s, requestID, deadlineApology, true)
	s.mu.Unlock()
	m.log.Warn("response deadline exhausted",
		zap.String("call_id", callID), zap.Int("request_id", requestID))
	m.Cleanup(callID)
}

// HandleCallStatus reacts to status changes from the telephony edge. A
// terminal status triggers the consent flow, then cleanup.
func (m *Manager) HandleCallStatus(callID, status string) error {
	s, ok := m.Get(callID)
	if !ok {
		return ErrUnknownCall
	}
	if !terminalStatuses[status] {
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	if s.state == StateEnded || s.state == StateError {
		s.mu.Unlock()
		return nil
	}
	if !s.consentAsked && s.ch != nil {
		s.consentAsked = true
		s.state = StateAwaitingConsent
		s.cancelTimerLocked(timerDeadline)
		s.responding = false
		m.sendLocked(s, s.lastRequestID+1, consentPrompt, false)
		s.setTimerLocked(timerConsent, m.cfg.ConsentWait, func() {
			m.log.Debug("consent wait expired", zap.String("call_id", callID))
			m.finishCall(callID)
		})
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	m.finishCall(callID)
	return nil
}

func (m *Manager) handleConsentLocked(s *Session, requestID int, text string) {
	s.cancelTimerLocked(timerConsent)
	s.appendTurnLocked("user", text, m.cfg.MaxTranscript)
	switch {
	case consentNoPattern.MatchString(text):
		s.consentGiven = false
		m.sendLocked(s, requestID, consentDecline, true)
	case consentYesPattern.MatchString(text):
		s.consentGiven = true
		m.sendLocked(s, requestID, consentAck, true)
	default:
		s.consentGiven = false
		m.sendLocked(s, requestID, consentDecline, true)
	}
}

// finishCall runs once per call: if consent was given, the summary is
// generated and texted with the bounded retry policy, then cleanup.
func (m *Manager) finishCall(callID string) {
	s, ok := m.Get(callID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	consent := s.consentGiven
	from := s.From
	transcript := append([]models.Turn(nil), s.transcript...)
	s.mu.Unlock()

	if consent && m.sms != nil && from != "" {
		go m.sendFollowUp(callID, from, transcript)
	}
	m.Cleanup(callID)
}

// sendFollowUp texts the call summary, retrying with a fixed delay.
func (m *Manager) sendFollowUp(callID, to string, transcript []models.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	body := fallbackSummary
	if m.summarizer != nil {
		if summary, err := m.summarizer.Summarize(ctx, transcript); err == nil && summary != "" {
			body = summary
		} else if err != nil {
			m.log.Warn("summary generation failed, using fallback",
				zap.String("call_id", callID), zap.Error(err))
		}
	}

	for attempt := 1; attempt <= m.cfg.SMSAttempts; attempt++ {
		err := m.sms.SendText(ctx, to, body)
		if err == nil {
			m.log.Info("follow-up message sent", zap.String("call_id", callID))
			return
		}
		m.log.Warn("follow-up send failed",
			zap.String("call_id", callID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == m.cfg.SMSAttempts {
			return
		}
		select {
		case <-time.After(m.cfg.SMSRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// Cleanup cancels every timer, closes the channel, clears the conversation
// context, archives the transcript, and removes the session from the
// registry. Safe to call multiple times.
func (m *Manager) Cleanup(callID string) {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, callID)
	m.mu.Unlock()

	s.mu.Lock()
	s.cancelAllLocked()
	if s.state != StateError {
		s.state = StateEnded
	}
	ch := s.ch
	s.ch = nil
	rec := models.CallRecord{
		CallID:       s.ID,
		CallerNumber: s.From,
		Transcript:   append([]models.Turn(nil), s.transcript...),
		ConsentGiven: s.consentGiven,
		StartTime:    s.StartTime,
		EndTime:      time.Now(),
	}
	rec.DurationSecs = int(rec.EndTime.Sub(rec.StartTime).Seconds())
	update := m.transcriptUpdateLocked(s, false)
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	m.mem.Clear(callID)
	if m.hub != nil {
		m.hub.Broadcast(callID, update)
	}
	if m.archiver != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := m.archiver.SaveCallRecord(ctx, rec); err != nil {
				m.log.Error("archiving call record", zap.String("call_id", callID), zap.Error(err))
			}
		}()
	}
	m.log.Info("call session cleaned up", zap.String("call_id", callID))
}

func (m *Manager) sendLocked(s *Session, requestID int, text string, endCall bool) {
	if s.ch == nil {
		return
	}
	if err := s.ch.Send(requestID, text, endCall); err != nil {
		m.log.Warn("channel send failed", zap.String("call_id", s.ID), zap.Error(err))
	}
}

func (m *Manager) transcriptUpdateLocked(s *Session, active bool) models.TranscriptUpdate {
	return models.TranscriptUpdate{
		Type:        "transcript_update",
		CallID:      s.ID,
		Transcript:  append([]models.Turn(nil), s.transcript...),
		StartTime:   s.StartTime,
		LastUpdated: time.Now(),
		IsActive:    active,
	}
}
