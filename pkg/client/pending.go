package client

import (
	"context"
	"sync"
)

// Callback receives the outcome of a call. Exactly one of err and result is
// meaningful.
type Callback func(err error, result Result)

// Pending is the deferred result of a call. It is settled exactly once.
type Pending struct {
	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// settle records the outcome; later calls are ignored.
func (p *Pending) settle(result Result, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// Done is closed once the call has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the call finishes or ctx is done. Giving up on ctx
// does not cancel the call itself; cancel the context passed to the call
// for that.
func (p *Pending) Await(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then invokes fn on its own goroutine once the call has finished.
func (p *Pending) Then(fn Callback) {
	go func() {
		<-p.done
		fn(p.err, p.result)
	}()
}
