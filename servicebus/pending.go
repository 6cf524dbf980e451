package servicebus

import (
	"context"
	"sync"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
)

// Pending is the handle returned by DispatchAsync.
type Pending struct {
	id   string
	done chan struct{}

	mu   sync.Mutex
	code int
	err  error
	then []func(code int, err error)
}

var _ cbus.PendingReply = (*Pending)(nil)

func newPending(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{}), code: NoReplyCode}
}

// ID returns the correlation id of the request.
func (p *Pending) ID() string { return p.id }

// Done is closed once the reply arrived or the wait ended.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the request completes or ctx ends.
func (p *Pending) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()

		return p.code, p.err
	case <-ctx.Done():
		return NoReplyCode, ctx.Err()
	}
}

// Then registers a continuation. It runs exactly once: on the completing goroutine, or right away
// on the caller's goroutine when the request already completed.
func (p *Pending) Then(fn func(code int, err error)) {
	if fn == nil {
		return
	}

	p.mu.Lock()
	select {
	case <-p.done:
		code, err := p.code, p.err
		p.mu.Unlock()
		fn(code, err)

		return
	default:
	}

	p.then = append(p.then, fn)
	p.mu.Unlock()
}

func (p *Pending) complete(code int, err error) {
	p.mu.Lock()
	p.code, p.err = code, err
	then := p.then
	p.then = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range then {
		fn(code, err)
	}
}
