package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ann82/havenline/cache"
	"github.com/ann82/havenline/gateway"
	"github.com/ann82/havenline/memory"
	"github.com/ann82/havenline/models"
	"github.com/ann82/havenline/router"
	"github.com/ann82/havenline/session"
)

type staticSearch struct{}

func (staticSearch) Search(context.Context, string, string) (*models.SearchResponse, error) {
	return &models.SearchResponse{Answer: "static"}, nil
}

type staticLLM struct{}

func (staticLLM) Complete(context.Context, []models.Turn, int) (*models.CompletionResult, error) {
	return &models.CompletionResult{Text: "static"}, nil
}

func testApp(t *testing.T) (*App, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := gateway.New(gateway.Config{MaxAttempts: 1, RetryDelay: time.Millisecond}, nil)
	mem := memory.NewStore(time.Minute, 10)
	rt, err := router.New(staticSearch{}, staticLLM{}, gw, cache.New(time.Minute, 10), mem, router.Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mgr := session.NewManager(session.Deps{Router: rt, Memory: mem}, session.Config{})
	return &App{mgr: mgr, router: rt}, mgr
}

func TestLastUserUtterance(t *testing.T) {
	transcript := []edgeTranscriptEntry{
		{Role: "agent", Content: "hello"},
		{Role: "user", Content: "first"},
		{Role: "agent", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	if got := lastUserUtterance(transcript); got != "second" {
		t.Fatalf("got %q", got)
	}
	if got := lastUserUtterance(nil); got != "" {
		t.Fatalf("empty transcript should yield empty utterance, got %q", got)
	}
}

func TestCallStatusEndpoint(t *testing.T) {
	app, mgr := testApp(t)
	engine := gin.New()
	engine.POST("/call-status/:call_id", app.CallStatus)

	// Unknown calls are rejected at the boundary.
	req := httptest.NewRequest(http.MethodPost, "/call-status/ghost",
		strings.NewReader(url.Values{"CallStatus": {"completed"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res := httptest.NewRecorder()
	engine.ServeHTTP(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("unknown call: status %d", res.Code)
	}

	mgr.CreateSession("call-1", "+15550001")
	req = httptest.NewRequest(http.MethodPost, "/call-status/call-1",
		strings.NewReader(url.Values{"CallStatus": {"completed"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res = httptest.NewRecorder()
	engine.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("terminal status: status %d", res.Code)
	}
	if mgr.Active() != 0 {
		t.Fatalf("session should be cleaned up, active=%d", mgr.Active())
	}
}

func TestStatsEndpoint(t *testing.T) {
	app, _ := testApp(t)
	engine := gin.New()
	engine.GET("/stats", app.Stats)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	res := httptest.NewRecorder()
	engine.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status %d", res.Code)
	}
	var snap router.StatsSnapshot
	if err := json.Unmarshal(res.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if snap.TotalRequests != 0 {
		t.Fatalf("fresh router reported %d requests", snap.TotalRequests)
	}
}

func TestEdgeResponseFrameShape(t *testing.T) {
	data, err := json.Marshal(edgeResponse{ResponseID: 3, Content: "hi", ContentComplete: true})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"response_id":3,"content":"hi","content_complete":true,"end_call":false}`
	if string(data) != want {
		t.Fatalf("frame = %s", data)
	}
}
