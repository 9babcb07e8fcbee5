package client

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobState is the position of a job in the dispatch state machine:
// admitted -> dispatched -> {succeeded | retryScheduled -> admitted | failed}.
type JobState int

const (
	JobAdmitted JobState = iota
	JobDispatched
	JobRetryScheduled
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobAdmitted:
		return "admitted"
	case JobDispatched:
		return "dispatched"
	case JobRetryScheduled:
		return "retry_scheduled"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job wraps a Request with its orchestration state. It is owned by the
// queue until it reaches JobSucceeded or JobFailed.
type Job struct {
	ID         string
	ctx        context.Context
	req        *Request
	retry      *RetryState
	state      JobState
	pending    *Pending
	admittedAt time.Time
}

func newJob(ctx context.Context, req *Request, retry *RetryState) *Job {
	return &Job{
		ID:      uuid.NewString(),
		ctx:     ctx,
		req:     req.clone(),
		retry:   retry,
		pending: newPending(),
	}
}

func (j *Job) succeed(result Result) {
	j.state = JobSucceeded
	j.pending.settle(result, nil)
}

func (j *Job) fail(err error) {
	j.state = JobFailed
	j.pending.settle(nil, err)
}
