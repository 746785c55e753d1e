// Package gateway wraps every outbound backend call with bounded retry and
// rate throttling. Both the search and language-model backends route through
// one Gateway so the router carries no resilience logic of its own.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrBackendUnavailable is returned once the retry budget is exhausted.
// The original cause is wrapped and reachable via errors.Unwrap.
var ErrBackendUnavailable = errors.New("backend unavailable")

// StatusError is an HTTP failure from a backend. 5xx and 429 are transient.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// Config controls retry and throttle behavior for a Gateway.
type Config struct {
	MaxAttempts int           // total attempts per call, >= 1
	RetryDelay  time.Duration // delay before the first retry
	Backoff     float64       // multiplier applied to the delay per retry
	RateLimit   rate.Limit    // outbound calls per second, 0 = unlimited
	Burst       int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.Backoff < 1 {
		c.Backoff = 2
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	return c
}

// Gateway applies one uniform retry/throttle policy to outbound calls.
type Gateway struct {
	cfg     Config
	limiter *rate.Limiter
	log     *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Gateway {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(cfg.RateLimit, cfg.Burst)
	}
	return &Gateway{cfg: cfg, limiter: limiter, log: log}
}

// Do runs op, retrying transient failures up to the configured attempt
// budget with exponential delay. Non-transient failures return immediately.
func (g *Gateway) Do(ctx context.Context, name string, op func(context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	delay := g.cfg.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return err
		}
		lastErr = err
		if attempt == g.cfg.MaxAttempts {
			break
		}
		g.log.Warn("transient backend failure, retrying",
			zap.String("backend", name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * g.cfg.Backoff)
	}
	return fmt.Errorf("%s after %d attempts: %w: %w",
		name, g.cfg.MaxAttempts, ErrBackendUnavailable, lastErr)
}

// Transient reports whether err is worth retrying: network errors, timeouts,
// and server-side HTTP failures.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
