package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ann82/havenline/cache"
	"github.com/ann82/havenline/gateway"
	"github.com/ann82/havenline/memory"
	"github.com/ann82/havenline/models"
)

type fakeSearch struct {
	mu       sync.Mutex
	calls    int
	lastQ    string
	lastLoc  string
	resp     *models.SearchResponse
	err      error
}

func (f *fakeSearch) Search(_ context.Context, query, loc string) (*models.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastQ = query
	f.lastLoc = loc
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeSearch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLLM struct {
	mu    sync.Mutex
	calls int
	convo []models.Turn
	text  string
	err   error
}

func (f *fakeLLM) Complete(_ context.Context, convo []models.Turn, _ int) (*models.CompletionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.convo = append([]models.Turn(nil), convo...)
	if f.err != nil {
		return nil, f.err
	}
	return &models.CompletionResult{Text: f.text, TokensUsed: 10}, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func shelterResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Results: []models.SearchResult{{
			Name:    "Safe Haven Shelter",
			Address: "100 Main St, Austin",
			Phone:   "512-555-0100",
			Attributes: map[string]string{
				"pets": "yes, they accept pets",
			},
		}},
	}
}

type testRig struct {
	router *Router
	search *fakeSearch
	llm    *fakeLLM
	mem    *memory.Store
}

func newRig(t *testing.T, search *fakeSearch, llm *fakeLLM) *testRig {
	t.Helper()
	gw := gateway.New(gateway.Config{MaxAttempts: 1, RetryDelay: time.Millisecond}, nil)
	mem := memory.NewStore(time.Minute, 10)
	r, err := New(search, llm, gw, cache.New(time.Minute, 50), mem, Config{}, nil)
	if err != nil {
		t.Fatalf("building router: %v", err)
	}
	return &testRig{router: r, search: search, llm: llm, mem: mem}
}

func TestHighConfidenceUsesSearchOnly(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{text: "llm"})

	ans := rig.router.Respond(context.Background(), "c1", "shelter near austin")
	if ans.Source != models.SourceSearch {
		t.Fatalf("source = %q", ans.Source)
	}
	if ans.FallbackUsed {
		t.Fatal("fallback should not be used")
	}
	if rig.search.callCount() != 1 || rig.llm.callCount() != 0 {
		t.Fatalf("calls: search=%d llm=%d", rig.search.callCount(), rig.llm.callCount())
	}
	if ans.Focus == nil || ans.Focus.Name != "Safe Haven Shelter" {
		t.Fatalf("focus entity not set: %+v", ans.Focus)
	}
	if rig.search.lastLoc != "austin" {
		t.Fatalf("location hint = %q", rig.search.lastLoc)
	}
}

func TestHighConfidenceEmptySearchFallsBack(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: &models.SearchResponse{}}, &fakeLLM{text: "from the model"})

	ans := rig.router.Respond(context.Background(), "c1", "shelter near austin")
	if !ans.FallbackUsed {
		t.Fatal("expected fallbackUsed")
	}
	if ans.Text != "from the model" {
		t.Fatalf("text = %q", ans.Text)
	}
	if rig.llm.callCount() != 1 {
		t.Fatalf("llm calls = %d", rig.llm.callCount())
	}
}

func TestCachedAnswerSkipsBackends(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{})

	first := rig.router.Respond(context.Background(), "c1", "shelter near austin")
	second := rig.router.Respond(context.Background(), "c2", "Shelter NEAR Austin")

	if rig.search.callCount() != 1 {
		t.Fatalf("second request hit the backend: %d calls", rig.search.callCount())
	}
	if second.Source != models.SourceCache {
		t.Fatalf("second source = %q", second.Source)
	}
	if second.Text != first.Text {
		t.Fatalf("cached text diverged: %q vs %q", second.Text, first.Text)
	}
}

func TestMediumHybridPrefersSufficientSearch(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{text: "llm says"})
	rig.mem.Remember("c1", "shelter near austin", "answer", memory.QueryContext{Location: "austin"})

	ans := rig.router.Respond(context.Background(), "c1", "is there counseling available")
	if ans.Source != models.SourceHybrid {
		t.Fatalf("source = %q", ans.Source)
	}
	if ans.FallbackUsed {
		t.Fatal("search was sufficient, fallback should be unset")
	}
	if rig.search.callCount() != 1 || rig.llm.callCount() != 1 {
		t.Fatalf("hybrid should call both: search=%d llm=%d", rig.search.callCount(), rig.llm.callCount())
	}
	if rig.search.lastLoc != "austin" {
		t.Fatalf("stored location not reused, got %q", rig.search.lastLoc)
	}
}

func TestMediumSearchErrorFallsBackToLLM(t *testing.T) {
	rig := newRig(t, &fakeSearch{err: errors.New("connection refused")}, &fakeLLM{text: "llm rescue"})
	rig.mem.Remember("c1", "q", "a", memory.QueryContext{Location: "austin"})

	ans := rig.router.Respond(context.Background(), "c1", "is there counseling available")
	if ans.Text != "llm rescue" || !ans.FallbackUsed {
		t.Fatalf("expected llm fallback, got %+v", ans)
	}
}

func TestLowConfidenceInjectsSnippets(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{text: "with context"})

	ans := rig.router.Respond(context.Background(), "c1", "i need directions")
	if ans.Source != models.SourceLLM {
		t.Fatalf("source = %q", ans.Source)
	}
	if len(rig.llm.convo) == 0 || rig.llm.convo[0].Role != "system" {
		t.Fatalf("expected snippet turn first, got %+v", rig.llm.convo)
	}
}

func TestNonFactualGoesToLLMOnly(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{text: "i hear you"})

	ans := rig.router.Respond(context.Background(), "c1", "i feel really overwhelmed")
	if ans.Source != models.SourceLLM || ans.FallbackUsed {
		t.Fatalf("unexpected answer %+v", ans)
	}
	if rig.search.callCount() != 0 {
		t.Fatal("non-factual utterance should not hit search")
	}
}

func TestFollowUpResolvesFromFocus(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{text: "llm"})
	focus := &models.SearchResult{
		Name:       "Safe Haven Shelter",
		Attributes: map[string]string{"pets": "yes, they accept pets"},
	}
	rig.mem.Remember("c1", "shelter near austin", "found it", memory.QueryContext{
		Intent: "find_resource",
		Focus:  focus,
	})

	ans := rig.router.Respond(context.Background(), "c1", "do they take pets")
	if ans.Source != models.SourceContext {
		t.Fatalf("source = %q", ans.Source)
	}
	if rig.search.callCount() != 0 || rig.llm.callCount() != 0 {
		t.Fatal("follow-up must not touch any backend")
	}
	if ans.Text != "Safe Haven Shelter: yes, they accept pets." {
		t.Fatalf("text = %q", ans.Text)
	}
}

func TestFarewellEndsCall(t *testing.T) {
	rig := newRig(t, &fakeSearch{}, &fakeLLM{})

	ans := rig.router.Respond(context.Background(), "c1", "okay goodbye")
	if !ans.EndCall {
		t.Fatal("farewell must set EndCall")
	}
	if rig.search.callCount() != 0 || rig.llm.callCount() != 0 {
		t.Fatal("farewell must not hit backends")
	}
}

func TestGreetingServedFromStaticTable(t *testing.T) {
	rig := newRig(t, &fakeSearch{}, &fakeLLM{})

	ans := rig.router.Respond(context.Background(), "c1", "  Hello ")
	if ans.Source != models.SourceCanned || ans.EndCall {
		t.Fatalf("unexpected answer %+v", ans)
	}
	if rig.search.callCount() != 0 || rig.llm.callCount() != 0 {
		t.Fatal("greeting must not hit backends")
	}
}

func TestResourceQueryWithoutLocationPrompts(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{})

	ans := rig.router.Respond(context.Background(), "c1", "i need a shelter")
	if !ans.NeedsLocation {
		t.Fatalf("expected a location prompt, got %+v", ans)
	}
	if rig.search.callCount() != 0 {
		t.Fatal("no backend call before a location is known")
	}
}

func TestBareLocationCompletesPendingQuery(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{})
	rig.mem.Remember("c1", "i need a shelter", "What city or area?", memory.QueryContext{
		Intent:        "find_resource",
		NeedsLocation: true,
	})

	ans := rig.router.Respond(context.Background(), "c1", "austin")
	if rig.search.callCount() != 1 {
		t.Fatalf("search calls = %d", rig.search.callCount())
	}
	if rig.search.lastQ != "i need a shelter" {
		t.Fatalf("pending query not reused, got %q", rig.search.lastQ)
	}
	if rig.search.lastLoc != "austin" {
		t.Fatalf("location = %q", rig.search.lastLoc)
	}
	if ans.Focus == nil {
		t.Fatal("expected a focus entity from the completed search")
	}
}

func TestAmbiguousUtteranceAsksToConfirmOldLocation(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{text: "llm"})
	rig.mem.Remember("c1", "shelter near austin", "a", memory.QueryContext{Location: "austin"})

	// "somewhere safe" alone scores low; the stored location must not be
	// reused silently.
	ans := rig.router.Respond(context.Background(), "c1", "somewhere safe")
	if !ans.NeedsLocation {
		t.Fatalf("expected a confirmation prompt, got %+v", ans)
	}
	if ans.Location != "austin" {
		t.Fatalf("confirmation should carry the stored location, got %q", ans.Location)
	}
	if rig.search.callCount() != 0 {
		t.Fatal("no backend call before confirmation")
	}
}

func TestRoutingFailuresNeverEscape(t *testing.T) {
	rig := newRig(t, &fakeSearch{err: errors.New("down")}, &fakeLLM{err: errors.New("also down")})

	ans := rig.router.Respond(context.Background(), "c1", "shelter near austin")
	if ans == nil || ans.Text == "" {
		t.Fatal("router must always produce an answer")
	}
	if !ans.FallbackUsed {
		t.Fatal("total failure should be marked as fallback")
	}
}

func TestStatsCounters(t *testing.T) {
	rig := newRig(t, &fakeSearch{resp: shelterResponse()}, &fakeLLM{text: "llm"})

	rig.router.Respond(context.Background(), "c1", "shelter near austin")
	rig.router.Respond(context.Background(), "c1", "shelter near austin") // cache hit
	rig.router.Respond(context.Background(), "c1", "hello")

	snap := rig.router.Stats()
	if snap.TotalRequests != 3 {
		t.Fatalf("total = %d", snap.TotalRequests)
	}
	if snap.CacheHits != 1 {
		t.Fatalf("cache hits = %d", snap.CacheHits)
	}
	high := snap.Buckets[string(BucketHigh)]
	if high.Count != 1 || high.Successes != 1 {
		t.Fatalf("high bucket = %+v", high)
	}
	if snap.Sources[models.SourceSearch].Count != 1 {
		t.Fatalf("search source = %+v", snap.Sources[models.SourceSearch])
	}
}
