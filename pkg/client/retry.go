package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_retries_total",
		Help: "Total number of retry attempts by error code",
	}, []string{"error_code"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webapi_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error code",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 1800},
	}, []string{"error_code"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error code",
	}, []string{"error_code"})
)

// UnlimitedRetries disables the attempt cap.
const UnlimitedRetries = -1

// RandomizationFactor is the jitter applied to each delay when
// RetryConfig.Randomize is set: a delay d becomes a value in [d/2, 3d/2].
const RandomizationFactor = 0.5

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// Retries is the number of retries after the first attempt.
	// 0 disables retrying, UnlimitedRetries removes the cap.
	Retries int

	// MinDelay is the delay before the first retry.
	MinDelay time.Duration

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration

	// Randomize perturbs each delay by up to ±50%.
	Randomize bool

	// RetryableStatus selects which HTTP error statuses are retried.
	// Defaults to DefaultRetryableStatus (5xx).
	RetryableStatus func(status int) bool
}

// DefaultRetryConfig returns the default retry configuration: unlimited
// attempts, exponential backoff from 1s capped at 30 minutes, randomized.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Retries:   UnlimitedRetries,
		MinDelay:  1 * time.Second,
		MaxDelay:  30 * time.Minute,
		Randomize: true,
	}
}

// NoRetries returns a configuration that never retries.
func NoRetries() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Retries = 0
	return cfg
}

// RetryPolicy decides whether a failed attempt is retried and when.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a policy, filling unset delays with defaults.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = def.MinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.RetryableStatus == nil {
		cfg.RetryableStatus = DefaultRetryableStatus
	}
	return &RetryPolicy{config: cfg}
}

// Config returns the effective configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.config
}

// RetryState is the per-job retry bookkeeping.
type RetryState struct {
	// Attempts is the number of retries consumed so far.
	Attempts int
	// LastDelay is the most recently computed delay.
	LastDelay time.Duration

	backoff *backoff.ExponentialBackOff
}

// NewState creates the retry state of a new job.
func (p *RetryPolicy) NewState() *RetryState {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.MinDelay
	b.MaxInterval = p.config.MaxDelay
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	if p.config.Randomize {
		b.RandomizationFactor = RandomizationFactor
	}
	b.Reset()
	return &RetryState{backoff: b}
}

// Exhausted reports whether s has used up the attempt budget.
func (p *RetryPolicy) Exhausted(s *RetryState) bool {
	if p.config.Retries == UnlimitedRetries || p.config.Retries < 0 {
		return false
	}
	return s.Attempts >= p.config.Retries
}

// Retryable reports whether err is eligible for a backoff retry.
// PlatformError, FileUploadError, RateLimitedError and bare context errors
// are not. A per-request timeout surfaces as a RequestError and is.
func (p *RetryPolicy) Retryable(err error) bool {
	return IsRetryable(err)
}

// ShouldRetry consumes one attempt and returns the delay before the next
// try, or false when err is terminal or the budget is exhausted.
func (p *RetryPolicy) ShouldRetry(err error, s *RetryState) (time.Duration, bool) {
	code := string(CodeOf(err))
	if !p.Retryable(err) {
		return 0, false
	}
	if p.Exhausted(s) {
		retryExhaustedTotal.WithLabelValues(code).Inc()
		return 0, false
	}

	delay := s.backoff.NextBackOff()
	if delay > p.config.MaxDelay {
		delay = p.config.MaxDelay
	}
	s.Attempts++
	s.LastDelay = delay

	retriesTotal.WithLabelValues(code).Inc()
	retryBackoffSeconds.WithLabelValues(code).Observe(delay.Seconds())
	return delay, true
}

// ConsumeRateLimitAttempt records a rate-limit re-admission against the
// attempt budget without advancing the backoff ladder. Returns false when
// the budget was already exhausted.
func (p *RetryPolicy) ConsumeRateLimitAttempt(s *RetryState) bool {
	if p.Exhausted(s) {
		retryExhaustedTotal.WithLabelValues(string(CodeRateLimited)).Inc()
		return false
	}
	s.Attempts++
	retriesTotal.WithLabelValues(string(CodeRateLimited)).Inc()
	return true
}
