package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate-limit handling.
var (
	rateLimitPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webapi_rate_limit_pauses_total",
		Help: "Total number of dispatch pauses caused by rate-limited responses",
	})

	rateLimitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webapi_rate_limit_rejections_total",
		Help: "Total number of rate-limited calls rejected without retry",
	})

	rateLimitRetryAfterSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webapi_rate_limit_retry_after_seconds",
		Help:    "Retry-After durations received from the remote API",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})
)

// Pauser suspends dispatch of new calls for a duration.
type Pauser interface {
	Pause(d time.Duration)
}

// PauseHandler receives the duration of every rate-limit pause.
type PauseHandler func(d time.Duration)

// Decision is the controller's verdict on a rate-limited call.
type Decision int

const (
	// Reject fails the call immediately; the queue is not paused.
	Reject Decision = iota
	// Requeue re-admits the call once the pause has expired.
	Requeue
)

func (d Decision) String() string {
	if d == Requeue {
		return "requeue"
	}
	return "reject"
}

// Controller applies the rate-limit policy of one client instance.
type Controller struct {
	reject  bool
	tracker *Tracker
	logger  zerolog.Logger

	mu       sync.Mutex
	handlers []subscription
	nextID   uint64
	state    PauseState
}

type subscription struct {
	id      uint64
	handler PauseHandler
}

// NewController creates a controller. When reject is true every
// rate-limited call fails immediately. tracker may be nil.
func NewController(reject bool, tracker *Tracker, logger zerolog.Logger) *Controller {
	return &Controller{
		reject:  reject,
		tracker: tracker,
		logger:  logger,
	}
}

// Subscribe registers h for pause notifications. Handlers run synchronously
// on the goroutine that observed the rate limit, in subscription order.
// The returned function removes the subscription.
func (c *Controller) Subscribe(h PauseHandler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers = append(c.handlers, subscription{id: id, handler: h})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.handlers {
			if s.id == id {
				c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
				return
			}
		}
	}
}

// Handle decides what happens to a call that received a rate-limited
// response. Unless the controller rejects rate-limited calls, it pauses q
// for retryAfter, notifies subscribers and returns Requeue.
func (c *Controller) Handle(ctx context.Context, method string, retryAfter time.Duration, q Pauser) Decision {
	rateLimitRetryAfterSeconds.Observe(retryAfter.Seconds())

	if c.reject {
		rateLimitRejectionsTotal.Inc()
		c.logger.Warn().
			Str("method", method).
			Dur("retry_after", retryAfter).
			Msg("Rate limited - rejecting call")
		return Reject
	}

	now := time.Now()
	c.mu.Lock()
	until := now.Add(retryAfter)
	if until.After(c.state.PausedUntil) {
		c.state.PausedUntil = until
	}
	c.state.RetryAfter = retryAfter
	c.state.LastUpdate = now
	state := c.state
	handlers := make([]PauseHandler, len(c.handlers))
	for i, s := range c.handlers {
		handlers[i] = s.handler
	}
	c.mu.Unlock()

	q.Pause(retryAfter)
	rateLimitPausesTotal.Inc()

	c.logger.Warn().
		Str("method", method).
		Dur("retry_after", retryAfter).
		Time("paused_until", state.PausedUntil).
		Msg("Rate limited - pausing dispatch")

	for _, h := range handlers {
		h(retryAfter)
	}

	if c.tracker != nil {
		if err := c.tracker.Record(ctx, state); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to mirror pause state")
		}
	}

	return Requeue
}

// State returns a snapshot of the pause state.
func (c *Controller) State() PauseState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
