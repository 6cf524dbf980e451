// Package correlation tracks requests waiting for a reply, keyed by correlation id.
package correlation

import (
	"context"
	"sync"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
)

// Table maps correlation ids to single-use reply channels. It is safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	pending map[string]chan cbus.Reply
}

// New returns an empty Table.
func New() *Table { return &Table{pending: make(map[string]chan cbus.Reply)} }

// Register reserves id and returns the channel its reply will be delivered on.
// The entry is dropped when ctx ends; the channel then never fires.
func (t *Table) Register(ctx context.Context, id string) <-chan cbus.Reply {
	ch := make(chan cbus.Reply, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	context.AfterFunc(ctx, func() { t.Cancel(id) })

	return ch
}

// Resolve delivers r to the waiter registered under r.CorrelationID.
// It reports false for unknown, expired or already answered ids.
func (t *Table) Resolve(r cbus.Reply) bool {
	t.mu.Lock()
	ch, ok := t.pending[r.CorrelationID]
	delete(t.pending, r.CorrelationID)
	t.mu.Unlock()

	if !ok {
		return false
	}

	ch <- r

	return true
}

// Cancel forgets id without delivering anything.
func (t *Table) Cancel(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Len returns the number of outstanding requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}
