package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func testGateway(attempts int) *Gateway {
	return New(Config{MaxAttempts: attempts, RetryDelay: time.Millisecond}, nil)
}

func TestDoRetriesTransientFailures(t *testing.T) {
	g := testGateway(3)
	calls := 0
	err := g.Do(context.Background(), "search", func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Code: 503, Body: "unavailable"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoGivesUpAfterBudget(t *testing.T) {
	g := testGateway(3)
	calls := 0
	err := g.Do(context.Background(), "search", func(context.Context) error {
		calls++
		return &StatusError{Code: 500, Body: "boom"}
	})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoDoesNotRetryPermanentFailures(t *testing.T) {
	g := testGateway(3)
	permanent := errors.New("bad request")
	calls := 0
	err := g.Do(context.Background(), "llm", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if errors.Is(err, ErrBackendUnavailable) {
		t.Fatal("permanent failure should not be reported as unavailable")
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	g := New(Config{MaxAttempts: 5, RetryDelay: 50 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := g.Do(ctx, "search", func(context.Context) error {
		calls++
		return &StatusError{Code: 503}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt before cancel, got %d", calls)
	}
}

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"server error", &StatusError{Code: 502}, true},
		{"rate limited", &StatusError{Code: 429}, true},
		{"client error", &StatusError{Code: 404}, false},
		{"network timeout", timeoutError{}, true},
		{"plain error", errors.New("nope"), false},
	}
	for _, tc := range cases {
		if got := Transient(tc.err); got != tc.want {
			t.Errorf("%s: Transient = %v, want %v", tc.name, got, tc.want)
		}
	}
}
