package actor

import (
	"context"
	"sync"
)

// Engine serializes operations per entity key. Every call targeting the same
// key runs strictly one at a time in arrival order on a dedicated mailbox
// goroutine; calls targeting different keys proceed fully in parallel. The
// mailbox goroutine exits as soon as its queue drains, so idle entities hold
// no resources.
type Engine struct {
	mu        sync.Mutex
	mailboxes map[string]*mailbox
}

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

type mailbox struct {
	queue []task
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{mailboxes: make(map[string]*mailbox)}
}

// Do enqueues fn on the mailbox for key and waits for it to finish. When the
// caller's context is cancelled before the task runs its turn, Do returns the
// context error but the task still executes in order; single-writer state
// mutations are never skipped mid-queue. The task runs with the caller's
// cancellation detached so a departed caller cannot fail a write that has
// already been queued behind others.
func (e *Engine) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	e.mu.Lock()
	mb, ok := e.mailboxes[key]
	if !ok {
		mb = &mailbox{}
		e.mailboxes[key] = mb
		mb.queue = append(mb.queue, t)
		go e.run(key, mb)
	} else {
		mb.queue = append(mb.queue, t)
	}
	e.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drains the mailbox for key and removes it once empty.
func (e *Engine) run(key string, mb *mailbox) {
	for {
		e.mu.Lock()
		if len(mb.queue) == 0 {
			delete(e.mailboxes, key)
			e.mu.Unlock()
			return
		}
		t := mb.queue[0]
		mb.queue = mb.queue[1:]
		e.mu.Unlock()

		t.done <- t.fn(context.WithoutCancel(t.ctx))
	}
}
