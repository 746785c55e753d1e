package models

import "time"

// Answer is the payload returned for one utterance. Text is rendered as
// speech by the telephony edge; EndCall tells the edge to hang up after
// speaking it.
type Answer struct {
	Text         string        `json:"text"`
	EndCall      bool          `json:"end_call"`
	Source       string        `json:"source"`
	FallbackUsed bool          `json:"fallback_used"`
	Elapsed      time.Duration `json:"-"`

	// Routing metadata consumed by the session manager when it updates
	// the conversation context after the answer is delivered.
	Intent        string        `json:"-"`
	Focus         *SearchResult `json:"-"`
	Location      string        `json:"-"`
	NeedsLocation bool          `json:"-"`
}

// Answer sources.
const (
	SourceSearch  = "search"
	SourceLLM     = "llm"
	SourceHybrid  = "hybrid"
	SourceCache   = "cache"
	SourceContext = "context"
	SourceCanned  = "canned"
)

// SearchResult is a single resource returned by the search backend.
type SearchResult struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Address     string            `json:"address,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	URL         string            `json:"url,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// SearchResponse is the search backend's reply: a ranked result list and
// an optional pre-composed answer string.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Answer  string         `json:"answer,omitempty"`
}

// Sufficient reports whether the response can answer a query on its own,
// without help from the language-model backend.
func (r *SearchResponse) Sufficient() bool {
	return r != nil && (len(r.Results) > 0 || r.Answer != "")
}

// CompletionResult is the language-model backend's reply.
type CompletionResult struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
}
