// Package ratelimit paces outbound requests per host: a minimum inter-request
// interval, exponential backoff with jitter after failures, honoring explicit
// retry-after hints, and a circuit breaker that withholds a host after
// repeated permanent failures to avoid triggering remote abuse protection.
package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrCircuitOpen = errors.New("circuit open for host")

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeTransient
	OutcomePermanent
)

// An Outcome is the result of one request to a host, reported back to the
// controller after the request finishes.
type Outcome struct {
	Kind OutcomeKind
	// RetryAfter is the server's explicit hint, if any (rate-limited only).
	RetryAfter time.Duration
}

func Success() Outcome   { return Outcome{Kind: OutcomeSuccess} }
func Transient() Outcome { return Outcome{Kind: OutcomeTransient} }
func Permanent() Outcome { return Outcome{Kind: OutcomePermanent} }

func RateLimited(retryAfter time.Duration) Outcome {
	return Outcome{Kind: OutcomeRateLimited, RetryAfter: retryAfter}
}

type Config struct {
	// MinInterval is the pacing floor between requests to one host.
	MinInterval time.Duration
	// BaseDelay seeds the exponential backoff after a failure.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// Jitter is the fraction (0..1) by which computed backoff delays are
	// randomly perturbed. Explicit retry-after hints are never jittered.
	Jitter float64
	// CircuitThreshold is the number of consecutive permanent failures after
	// which the host's circuit opens; <= 0 disables the breaker.
	CircuitThreshold int
	// CircuitCooldown is how long an open circuit stays open.
	CircuitCooldown time.Duration
}

var DefaultConfig = Config{
	MinInterval:      200 * time.Millisecond,
	BaseDelay:        time.Second,
	MaxDelay:         2 * time.Minute,
	Jitter:           0.2,
	CircuitThreshold: 5,
	CircuitCooldown:  5 * time.Minute,
}

type hostState struct {
	limiter          *rate.Limiter
	consecutiveFails int
	permanentFails   int
	lastFailure      time.Time
	// notBefore is the earliest time the next request may be admitted,
	// advanced by backoff and retry-after hints.
	notBefore        time.Time
	circuitOpenUntil time.Time
}

// A Controller tracks per-host request pacing and backoff state. It is the
// only owner of that state; workers interact with it solely through Admit and
// Report, and never hold any of its locks across a network call.
type Controller struct {
	config Config
	log    *zap.SugaredLogger

	mu    sync.Mutex
	hosts map[string]*hostState

	// now is replaceable for tests.
	now func() time.Time
}

func New(config Config) *Controller {
	if config.MinInterval <= 0 {
		config.MinInterval = DefaultConfig.MinInterval
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultConfig.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultConfig.MaxDelay
	}
	return &Controller{
		config: config,
		log:    zap.S().Named("ratelimit"),
		hosts:  make(map[string]*hostState),
		now:    time.Now,
	}
}

func (c *Controller) host(name string) *hostState {
	h, ok := c.hosts[name]
	if !ok {
		h = &hostState{
			limiter: rate.NewLimiter(rate.Every(c.config.MinInterval), 1),
		}
		c.hosts[name] = h
	}
	return h
}

// Admit blocks until a request to the host is permitted, or returns early
// with ErrCircuitOpen when the host's circuit is open, or with ctx.Err() on
// cancellation. This is the only pacing-related suspension point.
func (c *Controller) Admit(ctx context.Context, host string) error {
	c.mu.Lock()
	h := c.host(host)
	now := c.now()
	if now.Before(h.circuitOpenUntil) {
		c.mu.Unlock()
		return ErrCircuitOpen
	}
	wait := h.notBefore.Sub(now)
	limiter := h.limiter
	c.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return limiter.Wait(ctx)
}

// Report records the outcome of a request to the host, adjusting backoff and
// circuit state.
func (c *Controller) Report(host string, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.host(host)
	now := c.now()
	switch outcome.Kind {
	case OutcomeSuccess:
		h.consecutiveFails = 0
		h.permanentFails = 0
		h.notBefore = time.Time{}
	case OutcomeRateLimited:
		h.consecutiveFails++
		h.lastFailure = now
		delay := outcome.RetryAfter
		if delay <= 0 {
			delay = c.backoff(h.consecutiveFails)
		}
		h.notBefore = now.Add(delay)
		c.log.Infow("rate limited", "host", host, "delay", delay, "failures", h.consecutiveFails)
	case OutcomeTransient:
		h.consecutiveFails++
		h.lastFailure = now
		delay := c.backoff(h.consecutiveFails)
		h.notBefore = now.Add(delay)
		c.log.Debugw("transient failure", "host", host, "delay", delay, "failures", h.consecutiveFails)
	case OutcomePermanent:
		h.consecutiveFails++
		h.permanentFails++
		h.lastFailure = now
		if c.config.CircuitThreshold > 0 && h.permanentFails >= c.config.CircuitThreshold {
			h.circuitOpenUntil = now.Add(c.config.CircuitCooldown)
			h.permanentFails = 0
			c.log.Warnw("circuit opened", "host", host, "until", h.circuitOpenUntil)
		}
	}
}

// CircuitOpen reports whether the host's circuit is currently open.
func (c *Controller) CircuitOpen(host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hosts[host]
	return ok && c.now().Before(h.circuitOpenUntil)
}

// backoff computes min(MaxDelay, BaseDelay * 2^(n-1)), perturbed by the
// configured jitter fraction. Caller holds c.mu.
func (c *Controller) backoff(n int) time.Duration {
	delay := c.config.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= c.config.MaxDelay {
			delay = c.config.MaxDelay
			break
		}
	}
	if c.config.Jitter > 0 {
		spread := float64(delay) * c.config.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
