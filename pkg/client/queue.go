package client

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/slack-webapi-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for queue and request operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_requests_total",
		Help: "Total Web API requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webapi_request_duration_seconds",
		Help:    "Web API request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_errors_total",
		Help: "Total Web API errors by error code",
	}, []string{"code"})

	queueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webapi_queue_in_flight",
		Help: "Calls currently dispatched to the transport",
	})

	queuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webapi_queue_pending",
		Help: "Admitted calls waiting for dispatch",
	})
)

// QueueStats is a snapshot of the queue state.
type QueueStats struct {
	InFlight       int
	Pending        int
	RetryScheduled int
	MaxConcurrency int
	PausedUntil    time.Time
	Paused         bool
}

// Queue bounds concurrent calls, dispatches them in admission order and
// re-admits retryable failures. All state transitions happen under mu.
type Queue struct {
	transport  Transport
	policy     *RetryPolicy
	rateLimits *ratelimit.Controller
	pacer      *rate.Limiter
	logger     zerolog.Logger

	mu             sync.Mutex
	jobs           []*Job
	inFlight       int
	maxConcurrency int
	pausedUntil    time.Time
	resumeTimer    *time.Timer
	retryTimers    map[*Job]*time.Timer
	closed         bool
}

// NewQueue creates a queue. pacer may be nil.
func NewQueue(maxConcurrency int, transport Transport, policy *RetryPolicy, rateLimits *ratelimit.Controller, pacer *rate.Limiter, logger zerolog.Logger) *Queue {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxRequestConcurrency
	}
	return &Queue{
		transport:      transport,
		policy:         policy,
		rateLimits:     rateLimits,
		pacer:          pacer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		retryTimers:    make(map[*Job]*time.Timer),
	}
}

// Enqueue admits a job and returns its pending result.
func (q *Queue) Enqueue(job *Job) *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		job.fail(ErrClientClosed)
		return job.pending
	}

	job.admittedAt = time.Now()
	q.admitLocked(job)

	q.logger.Debug().
		Str("job_id", job.ID).
		Str("method", job.req.Method).
		Int("pending", len(q.jobs)).
		Msg("Job admitted")

	q.pumpLocked()
	return job.pending
}

// Pause suspends dispatch for d. Calls already in flight are unaffected.
// A pause never shortens one already in effect.
func (q *Queue) Pause(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	until := time.Now().Add(d)
	if !until.After(q.pausedUntil) {
		return
	}
	q.pausedUntil = until
	q.scheduleResumeLocked(d)
}

// Stats returns a snapshot of the queue state.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		InFlight:       q.inFlight,
		Pending:        len(q.jobs),
		RetryScheduled: len(q.retryTimers),
		MaxConcurrency: q.maxConcurrency,
		PausedUntil:    q.pausedUntil,
		Paused:         time.Now().Before(q.pausedUntil),
	}
}

// Close fails every job that is queued or waiting for a retry with
// ErrClientClosed. Calls in flight complete; they are not retried.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	if q.resumeTimer != nil {
		q.resumeTimer.Stop()
	}
	for job, t := range q.retryTimers {
		t.Stop()
		job.fail(ErrClientClosed)
	}
	q.retryTimers = map[*Job]*time.Timer{}

	for _, job := range q.jobs {
		job.fail(ErrClientClosed)
	}
	queuePending.Sub(float64(len(q.jobs)))
	q.jobs = nil
}

func (q *Queue) admitLocked(job *Job) {
	job.state = JobAdmitted
	q.jobs = append(q.jobs, job)
	queuePending.Inc()
}

// pumpLocked dispatches admitted jobs while there is capacity and the
// queue is not paused.
func (q *Queue) pumpLocked() {
	for !q.closed && len(q.jobs) > 0 && q.inFlight < q.maxConcurrency {
		if remaining := time.Until(q.pausedUntil); remaining > 0 {
			q.scheduleResumeLocked(remaining)
			return
		}

		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		queuePending.Dec()

		if err := job.ctx.Err(); err != nil {
			job.fail(fmt.Errorf("%s: %w", job.req.Method, err))
			continue
		}

		job.state = JobDispatched
		q.inFlight++
		queueInFlight.Inc()

		q.logger.Debug().
			Str("job_id", job.ID).
			Str("method", job.req.Method).
			Int("attempt", job.retry.Attempts).
			Int("in_flight", q.inFlight).
			Dur("queued", time.Since(job.admittedAt)).
			Msg("Job dispatched")

		go q.run(job)
	}
}

func (q *Queue) scheduleResumeLocked(d time.Duration) {
	if q.resumeTimer != nil {
		q.resumeTimer.Stop()
	}
	q.resumeTimer = time.AfterFunc(d, q.resume)
}

func (q *Queue) resume() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if time.Now().Before(q.pausedUntil) {
		// A later pause replaced the one this timer was armed for.
		q.scheduleResumeLocked(time.Until(q.pausedUntil))
		return
	}
	q.logger.Debug().Int("pending", len(q.jobs)).Msg("Dispatch resumed")
	q.pumpLocked()
}

// run performs one attempt of job and decides what happens next.
func (q *Queue) run(job *Job) {
	if err := q.pace(job); err != nil {
		job.fail(err)
		q.release()
		return
	}
	if q.requeueIfPaused(job) {
		return
	}

	result, err := q.attempt(job)

	switch {
	case err == nil:
		job.succeed(result)
		if job.retry.Attempts > 0 {
			q.logger.Info().
				Str("job_id", job.ID).
				Str("method", job.req.Method).
				Int("attempt", job.retry.Attempts).
				Msg("Request succeeded after retry")
		}
	case job.ctx.Err() != nil:
		job.fail(fmt.Errorf("%s: %w", job.req.Method, job.ctx.Err()))
	default:
		q.handleFailure(job, err)
	}

	q.release()
}

// release frees job's in-flight slot and dispatches the next job.
func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaseLocked()
}

func (q *Queue) releaseLocked() {
	q.inFlight--
	queueInFlight.Dec()
	q.pumpLocked()
}

// pace waits for the client-side request pacer. A wait that cannot finish
// before job's deadline fails as a context error.
func (q *Queue) pace(job *Job) error {
	if q.pacer == nil {
		return nil
	}
	err := q.pacer.Wait(job.ctx)
	if err == nil {
		return nil
	}
	if ctxErr := job.ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", job.req.Method, ctxErr)
	}
	return fmt.Errorf("%s: wait for pacer: %w (%v)", job.req.Method, context.DeadlineExceeded, err)
}

// requeueIfPaused puts job back at the head of the queue when a pause began
// while it waited for the pacer. The job keeps its retry budget.
func (q *Queue) requeueIfPaused(job *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !time.Now().Before(q.pausedUntil) {
		return false
	}
	if q.closed {
		job.fail(ErrClientClosed)
	} else {
		job.state = JobAdmitted
		q.jobs = append([]*Job{job}, q.jobs...)
		queuePending.Inc()
	}
	q.releaseLocked()
	return true
}

// attempt sends the request once and classifies the outcome.
func (q *Queue) attempt(job *Job) (Result, error) {
	method := job.req.Method

	start := time.Now()
	out, sendErr := q.transport.Send(job.ctx, job.req)
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	result, err := Classify(method, out, sendErr, q.policy.Config().RetryableStatus)
	if err != nil {
		errorsTotal.WithLabelValues(string(CodeOf(err))).Inc()
	}
	if out != nil {
		requestsTotal.WithLabelValues(method, strconv.Itoa(out.StatusCode)).Inc()
	} else {
		requestsTotal.WithLabelValues(method, "network_error").Inc()
	}

	if err == nil {
		for _, w := range result.Warnings() {
			q.logger.Warn().Str("method", method).Str("warning", w).Msg("Web API warning")
		}
	}
	return result, err
}

func (q *Queue) handleFailure(job *Job, err error) {
	method := job.req.Method

	if rlErr, ok := IsRateLimited(err); ok {
		decision := q.rateLimits.Handle(job.ctx, method, rlErr.RetryAfter, q)
		if decision == ratelimit.Reject {
			job.fail(err)
			return
		}
		if !q.policy.ConsumeRateLimitAttempt(job.retry) {
			q.exhausted(job, err)
			return
		}
		q.scheduleRetry(job, rlErr.RetryAfter, err)
		return
	}

	delay, retry := q.policy.ShouldRetry(err, job.retry)
	if !retry {
		if q.policy.Retryable(err) {
			q.exhausted(job, err)
			return
		}
		q.logger.Debug().
			Str("job_id", job.ID).
			Str("method", method).
			Str("error_code", string(CodeOf(err))).
			Msg("Job failed with terminal error")
		job.fail(err)
		return
	}
	q.scheduleRetry(job, delay, err)
}

func (q *Queue) exhausted(job *Job, err error) {
	q.logger.Error().
		Str("job_id", job.ID).
		Str("method", job.req.Method).
		Str("error_code", string(CodeOf(err))).
		Int("attempts", job.retry.Attempts).
		Msg("Retry attempts exhausted")

	if job.retry.Attempts == 0 {
		job.fail(err)
		return
	}
	job.fail(fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, job.retry.Attempts, err))
}

// scheduleRetry re-admits job at the tail of the queue once delay elapsed.
func (q *Queue) scheduleRetry(job *Job, delay time.Duration, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		job.fail(ErrClientClosed)
		return
	}

	job.state = JobRetryScheduled
	q.logger.Warn().
		Str("job_id", job.ID).
		Str("method", job.req.Method).
		Str("error_code", string(CodeOf(cause))).
		Int("attempt", job.retry.Attempts).
		Dur("backoff", delay).
		Msg("Retrying request after backoff")

	q.retryTimers[job] = time.AfterFunc(delay, func() { q.readmit(job) })
}

func (q *Queue) readmit(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.retryTimers[job]; !ok {
		// Close already failed the job.
		return
	}
	delete(q.retryTimers, job)

	if err := job.ctx.Err(); err != nil {
		job.fail(fmt.Errorf("%s: %w", job.req.Method, err))
		return
	}

	q.admitLocked(job)
	q.pumpLocked()
}
