package models

import "time"

// Turn is a single message in a conversation.
type Turn struct {
	Role    string    `json:"role" firestore:"role"`
	Content string    `json:"content" firestore:"content"`
	Time    time.Time `json:"time,omitempty" firestore:"time,omitempty"`
}

// CallRecord is the archived record of a finished call.
type CallRecord struct {
	CallID       string    `json:"call_id" firestore:"call_id"`
	CallerNumber string    `json:"caller_number,omitempty" firestore:"caller_number,omitempty"`
	Transcript   []Turn    `json:"transcript" firestore:"transcript"`
	Summary      string    `json:"summary,omitempty" firestore:"summary,omitempty"`
	ConsentGiven bool      `json:"consent_given" firestore:"consent_given"`
	StartTime    time.Time `json:"start_time" firestore:"start_time"`
	EndTime      time.Time `json:"end_time" firestore:"end_time"`
	DurationSecs int       `json:"duration_secs" firestore:"duration_secs"`
}

// TranscriptUpdate is pushed to dashboard observers after every answered turn.
type TranscriptUpdate struct {
	Type        string    `json:"type"`
	CallID      string    `json:"call_id"`
	Transcript  []Turn    `json:"transcript"`
	StartTime   time.Time `json:"start_time"`
	LastUpdated time.Time `json:"last_updated"`
	IsActive    bool      `json:"is_active"`
}

// ConnectionResponse is sent when an observer connects to the dashboard socket.
type ConnectionResponse struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
	CallID  string `json:"call_id,omitempty"`
}
