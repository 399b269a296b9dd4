// Package imetest provides in-memory doubles for the ime package.
package imetest

import (
	"context"
	"sync"

	"imsync/internal/ime"
)

// Bus is a scripted ime.Bus. The zero value is not usable; use NewBus.
type Bus struct {
	mu       sync.Mutex
	active   string
	known    map[string]bool
	echo     bool
	failNext []error
	stall    chan struct{}
	closed   bool
	changes  chan ime.Change
	activate []string
	queries  int
	resets   int
}

// NewBus returns a bus whose daemon reports active as the current input
// method. Every name is accepted unless Known is called.
func NewBus(active string) *Bus {
	return &Bus{active: active, changes: make(chan ime.Change, 64)}
}

// Known restricts the names Activate accepts.
func (b *Bus) Known(names ...string) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.known = make(map[string]bool, len(names))
	for _, n := range names {
		b.known[n] = true
	}
	return b
}

// Echo makes a successful Activate push a change notification, as the real
// daemon does.
func (b *Bus) Echo() *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.echo = true
	return b
}

// FailNext makes the next Activate, QueryActive or Reset fail with kind.
func (b *Bus) FailNext(kind error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = append(b.failNext, kind)
}

// Stall makes every call block until ctx expires or Unstall is called.
func (b *Bus) Stall() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stall == nil {
		b.stall = make(chan struct{})
	}
}

// Unstall releases stalled calls.
func (b *Bus) Unstall() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stall != nil {
		close(b.stall)
		b.stall = nil
	}
}

// Emit pushes a notification as if the daemon's input method changed
// externally.
func (b *Bus) Emit(name string) {
	b.mu.Lock()
	b.active = name
	b.mu.Unlock()
	b.changes <- ime.Change{NewActive: name}
}

// Disconnect ends the session: the stream closes and calls fail.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.changes)
	}
}

// Activations returns the names passed to Activate, in order.
func (b *Bus) Activations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.activate...)
}

// Queries returns how many times QueryActive was called.
func (b *Bus) Queries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries
}

// Resets returns how many times Reset was called.
func (b *Bus) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// Active returns what the fake daemon considers active.
func (b *Bus) Active() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Dialer returns an ime.Dialer handing out b.
func (b *Bus) Dialer() ime.Dialer {
	return func(context.Context) (ime.Bus, error) { return b, nil }
}

// wait blocks on a stall and returns the scripted failure, if any.
func (b *Bus) wait(ctx context.Context, op, name string) error {
	b.mu.Lock()
	stall := b.stall
	b.mu.Unlock()
	if stall != nil {
		select {
		case <-stall:
		case <-ctx.Done():
			return ime.NewCommandError(op, name, ime.ErrTimeout, ctx.Err())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ime.NewCommandError(op, name, ime.ErrDisconnected, nil)
	}
	if len(b.failNext) > 0 {
		kind := b.failNext[0]
		b.failNext = b.failNext[1:]
		return ime.NewCommandError(op, name, kind, nil)
	}
	return nil
}

func (b *Bus) Activate(ctx context.Context, name string) error {
	b.mu.Lock()
	b.activate = append(b.activate, name)
	b.mu.Unlock()

	if err := b.wait(ctx, "activate", name); err != nil {
		return err
	}

	b.mu.Lock()
	if b.known != nil && !b.known[name] {
		b.mu.Unlock()
		return ime.NewCommandError("activate", name, ime.ErrRejected, nil)
	}
	b.active = name
	echo := b.echo
	b.mu.Unlock()

	if echo {
		b.changes <- ime.Change{NewActive: name}
	}
	return nil
}

func (b *Bus) QueryActive(ctx context.Context) (string, error) {
	b.mu.Lock()
	b.queries++
	b.mu.Unlock()

	if err := b.wait(ctx, "query", ""); err != nil {
		return "", err
	}
	return b.Active(), nil
}

func (b *Bus) Subscribe(ctx context.Context) (<-chan ime.Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ime.NewCommandError("subscribe", "", ime.ErrDisconnected, nil)
	}
	return b.changes, nil
}

func (b *Bus) Reset(ctx context.Context) error {
	b.mu.Lock()
	b.resets++
	b.mu.Unlock()
	return b.wait(ctx, "reset", "")
}

func (b *Bus) Close() error {
	b.Disconnect()
	return nil
}

// Reporter records reported errors.
type Reporter struct {
	mu   sync.Mutex
	errs []error
}

// Report implements ime.Reporter.
func (r *Reporter) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Errors returns the reported errors in order.
func (r *Reporter) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}
