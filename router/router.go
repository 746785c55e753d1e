// Package router decides how each recognized utterance is answered: straight
// from a static table, from the previous turn's focus entity, from the cache,
// or by dispatching to the search and language-model backends according to a
// weighted-pattern confidence score.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ann82/havenline/cache"
	"github.com/ann82/havenline/gateway"
	"github.com/ann82/havenline/memory"
	"github.com/ann82/havenline/models"
)

// SearchBackend locates concrete resources for a query.
type SearchBackend interface {
	Search(ctx context.Context, query, locationHint string) (*models.SearchResponse, error)
}

// LLMBackend produces a conversational completion.
type LLMBackend interface {
	Complete(ctx context.Context, convo []models.Turn, maxTokens int) (*models.CompletionResult, error)
}

// Config tunes the router. Zero values select the built-in defaults.
type Config struct {
	Patterns   []Pattern
	FullWeight float64 // normalization constant for the confidence score
	MaxTokens  int
}

const (
	defaultMaxTokens = 200

	locationPrompt = "I can look that up for you. What city or area should I search in?"
	apologyReply   = "I'm sorry, I'm having trouble finding that right now. Could you try asking again in a moment?"
)

// Router classifies utterances and dispatches them to the backends. Every
// backend failure is absorbed here: Respond always returns an answer.
type Router struct {
	search    SearchBackend
	llm       LLMBackend
	gw        *gateway.Gateway
	cache     *cache.Cache
	mem       *memory.Store
	scorer    *scorer
	stats     *stats
	maxTokens int
	log       *zap.Logger
}

// New builds a Router. The pattern table is compiled once up front.
func New(search SearchBackend, llm LLMBackend, gw *gateway.Gateway, c *cache.Cache, mem *memory.Store, cfg Config, log *zap.Logger) (*Router, error) {
	patterns := cfg.Patterns
	if patterns == nil {
		patterns = DefaultPatterns
	}
	sc, err := newScorer(patterns, cfg.FullWeight)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern table: %w", err)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		search:    search,
		llm:       llm,
		gw:        gw,
		cache:     c,
		mem:       mem,
		scorer:    sc,
		stats:     newStats(),
		maxTokens: maxTokens,
		log:       log,
	}, nil
}

// Stats returns a snapshot of the router's counters.
func (r *Router) Stats() StatsSnapshot {
	return r.stats.snapshot()
}

// Respond answers one utterance. It never returns an error: backend failures
// are converted into fallback answers so the session manager always has
// something to say.
func (r *Router) Respond(ctx context.Context, callID, text string) *models.Answer {
	start := time.Now()
	r.stats.recordRequest()

	normalized := cache.Normalize(text)
	log := r.log.With(zap.String("call_id", callID))

	if farewellPattern.MatchString(normalized) {
		return finish(&models.Answer{Text: farewellReply, EndCall: true, Source: models.SourceCanned}, start)
	}
	if reply, ok := cannedReplies[normalized]; ok {
		return finish(&models.Answer{Text: reply, Source: models.SourceCanned}, start)
	}

	prior, havePrior := r.mem.Get(callID)

	if havePrior && prior.Last.Focus != nil && matchesFollowUp(normalized) {
		r.stats.recordFollowUp()
		ans := answerFromFocus(normalized, prior.Last.Focus)
		ans.Intent = prior.LastIntent
		ans.Location = prior.Last.Location
		return finish(ans, start)
	}

	confidence, matched, cats := r.scorer.score(normalized)
	query := text
	loc := extractLocation(normalized)

	// A bare place name right after the line asked "what city or area?" is
	// the answer to the pending query, not a new one.
	if havePrior && prior.Last.NeedsLocation && prior.LastQuery != "" &&
		confidence < thresholdLow && loc == "" {
		if m := bareLocationPattern.FindStringSubmatch(normalized); m != nil && len(strings.Fields(m[1])) <= 4 {
			query = prior.LastQuery
			loc = strings.TrimSpace(m[1])
			confidence, matched, cats = r.scorer.score(cache.Normalize(query))
		}
	}

	if ans, ok := r.cache.Get(query); ok {
		r.stats.recordCacheHit()
		return finish(&ans, start)
	}

	bucket := bucketFor(confidence)
	intent := intentFor(cats)
	log.Debug("classified utterance",
		zap.Float64("confidence", confidence),
		zap.String("bucket", string(bucket)),
		zap.Strings("matched", matched))

	if cats[CategoryResource] && loc == "" {
		if !havePrior || prior.Last.Location == "" {
			return finish(&models.Answer{
				Text:          locationPrompt,
				Source:        models.SourceCanned,
				Intent:        intent,
				NeedsLocation: true,
			}, start)
		}
		if bucket == BucketHigh || bucket == BucketMedium {
			loc = prior.Last.Location
		} else {
			// The utterance is too ambiguous to silently reuse the old
			// location; ask the caller to confirm it instead of failing.
			return finish(&models.Answer{
				Text:          fmt.Sprintf("Last time we looked near %s. Should I search there again?", prior.Last.Location),
				Source:        models.SourceCanned,
				Intent:        intent,
				Location:      prior.Last.Location,
				NeedsLocation: true,
			}, start)
		}
	}

	convo := append(append([]models.Turn(nil), prior.History...),
		models.Turn{Role: "user", Content: query, Time: time.Now()})

	ans := r.dispatch(ctx, bucket, query, loc, convo)
	ans.Intent = intent
	ans.Location = loc
	r.stats.recordBucket(bucket, ans.Text != apologyReply, ans.FallbackUsed)

	if ans.Text != apologyReply {
		cached := *ans
		r.cache.Put(query, cached)
	}
	return finish(ans, start)
}

// dispatch runs the routing table for one bucket. Errors from either backend
// are absorbed; the worst case is the canned apology.
func (r *Router) dispatch(ctx context.Context, bucket Bucket, query, loc string, convo []models.Turn) *models.Answer {
	switch bucket {
	case BucketHigh:
		resp, err := r.searchCall(ctx, query, loc)
		if err == nil && resp.Sufficient() {
			return answerFromSearch(resp, models.SourceSearch)
		}
		if err != nil {
			r.log.Warn("search failed on high-confidence query, falling back", zap.Error(err))
		}
		return r.llmFallback(ctx, convo)

	case BucketMedium:
		var (
			g    errgroup.Group
			resp *models.SearchResponse
			sErr error
			comp *models.CompletionResult
			lErr error
		)
		g.Go(func() error {
			resp, sErr = r.searchCall(ctx, query, loc)
			return nil
		})
		g.Go(func() error {
			comp, lErr = r.llmCall(ctx, convo)
			return nil
		})
		g.Wait()
		if sErr == nil && resp.Sufficient() {
			return answerFromSearch(resp, models.SourceHybrid)
		}
		if lErr == nil {
			return &models.Answer{Text: comp.Text, Source: models.SourceHybrid, FallbackUsed: true}
		}
		return &models.Answer{Text: apologyReply, Source: models.SourceLLM, FallbackUsed: true}

	case BucketLow:
		resp, err := r.searchCall(ctx, query, loc)
		if err == nil && len(resp.Results) > 0 {
			convo = append([]models.Turn{{Role: "system", Content: "Relevant local resources: " + snippets(resp)}}, convo...)
		}
		comp, lErr := r.llmCall(ctx, convo)
		if lErr == nil {
			return &models.Answer{Text: comp.Text, Source: models.SourceLLM}
		}
		if err == nil && resp.Sufficient() {
			ans := answerFromSearch(resp, models.SourceSearch)
			ans.FallbackUsed = true
			return ans
		}
		return &models.Answer{Text: apologyReply, Source: models.SourceLLM, FallbackUsed: true}

	default: // non-factual: free-form conversation
		return r.llmAnswer(ctx, convo)
	}
}

func (r *Router) llmAnswer(ctx context.Context, convo []models.Turn) *models.Answer {
	comp, err := r.llmCall(ctx, convo)
	if err != nil {
		return &models.Answer{Text: apologyReply, Source: models.SourceLLM, FallbackUsed: true}
	}
	return &models.Answer{Text: comp.Text, Source: models.SourceLLM}
}

func (r *Router) llmFallback(ctx context.Context, convo []models.Turn) *models.Answer {
	ans := r.llmAnswer(ctx, convo)
	ans.FallbackUsed = true
	return ans
}

func (r *Router) searchCall(ctx context.Context, query, loc string) (*models.SearchResponse, error) {
	start := time.Now()
	var resp *models.SearchResponse
	err := r.gw.Do(ctx, "search", func(ctx context.Context) error {
		var e error
		resp, e = r.search.Search(ctx, query, loc)
		return e
	})
	r.stats.recordSource(models.SourceSearch, time.Since(start), err == nil)
	return resp, err
}

func (r *Router) llmCall(ctx context.Context, convo []models.Turn) (*models.CompletionResult, error) {
	start := time.Now()
	var comp *models.CompletionResult
	err := r.gw.Do(ctx, "llm", func(ctx context.Context) error {
		var e error
		comp, e = r.llm.Complete(ctx, convo, r.maxTokens)
		return e
	})
	r.stats.recordSource(models.SourceLLM, time.Since(start), err == nil)
	return comp, err
}

func finish(ans *models.Answer, start time.Time) *models.Answer {
	ans.Elapsed = time.Since(start)
	return ans
}

func matchesFollowUp(normalized string) bool {
	for _, re := range followUpPatterns {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// extractLocation pulls a trailing place name out of the utterance.
// Self-references ("near me") carry no usable location.
func extractLocation(normalized string) string {
	m := locationPattern.FindStringSubmatch(normalized)
	if m == nil {
		return ""
	}
	loc := strings.TrimSpace(m[1])
	switch loc {
	case "me", "here", "us", "my area", "there":
		return ""
	}
	return loc
}

func intentFor(cats map[string]bool) string {
	switch {
	case cats[CategoryResource]:
		return "find_resource"
	case cats[CategoryFactual]:
		return "factual_question"
	default:
		return "conversation"
	}
}

// answerFromFocus resolves a follow-up from the remembered entity without
// touching any backend. An attribute question ("do they take pets") is
// answered from the entity's attribute table when a key matches.
func answerFromFocus(normalized string, focus *models.SearchResult) *models.Answer {
	for key, value := range focus.Attributes {
		if strings.Contains(normalized, strings.ToLower(key)) {
			return &models.Answer{
				Text:   fmt.Sprintf("%s: %s.", focus.Name, value),
				Source: models.SourceContext,
				Focus:  focus,
			}
		}
	}
	var b strings.Builder
	b.WriteString(focus.Name)
	if focus.Description != "" {
		b.WriteString(": " + focus.Description)
	}
	if focus.Address != "" {
		b.WriteString(" They're located at " + focus.Address + ".")
	}
	if focus.Phone != "" {
		b.WriteString(" You can reach them at " + focus.Phone + ".")
	}
	return &models.Answer{Text: b.String(), Source: models.SourceContext, Focus: focus}
}

// answerFromSearch composes a spoken answer from the search response and
// marks the top result as the new focus entity.
func answerFromSearch(resp *models.SearchResponse, source string) *models.Answer {
	ans := &models.Answer{Source: source}
	if len(resp.Results) > 0 {
		top := resp.Results[0]
		ans.Focus = &top
	}
	if resp.Answer != "" {
		ans.Text = resp.Answer
		return ans
	}
	var b strings.Builder
	n := len(resp.Results)
	if n > 3 {
		n = 3
	}
	fmt.Fprintf(&b, "I found %d option", len(resp.Results))
	if len(resp.Results) != 1 {
		b.WriteString("s")
	}
	b.WriteString(". ")
	for i := 0; i < n; i++ {
		res := resp.Results[i]
		fmt.Fprintf(&b, "%s", res.Name)
		if res.Address != "" {
			fmt.Fprintf(&b, ", at %s", res.Address)
		}
		if res.Phone != "" {
			fmt.Fprintf(&b, ", phone %s", res.Phone)
		}
		b.WriteString(". ")
	}
	if n > 0 {
		b.WriteString("Would you like more details about " + resp.Results[0].Name + "?")
	}
	ans.Text = strings.TrimSpace(b.String())
	return ans
}

func snippets(resp *models.SearchResponse) string {
	var parts []string
	for i, res := range resp.Results {
		if i == 3 {
			break
		}
		s := res.Name
		if res.Description != "" {
			s += " (" + res.Description + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}
