package ime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures an Engine. It is copied on NewEngine and never changed.
type Options struct {
	TargetIM     string
	FallbackIM   string
	SwitchOnMode bool
	Timeout      time.Duration
	Reporter     Reporter
	Logger       *slog.Logger

	// OnChange is passed to the listener; see Listener.OnChange.
	OnChange func(SyncState)
}

// Engine wires a Bus, the Cache, a Controller and a Listener together and is
// what the host talks to. Before Start succeeds every trigger is a no-op and
// ActiveIM returns "".
type Engine struct {
	opts  Options
	dial  Dialer
	cache *Cache

	// setupMu serializes Start, Reconnect and Close.
	setupMu sync.Mutex

	mu     sync.Mutex
	bus    Bus
	ctrl   *Controller
	cancel context.CancelFunc
	done   chan struct{}
	// lost is set by the listener of the current session when its stream
	// ends on its own.
	lost *atomic.Bool
}

// NewEngine creates an engine that connects with dial.
func NewEngine(dial Dialer, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Reporter == nil {
		opts.Reporter = discardReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		opts:  opts,
		dial:  dial,
		cache: NewCache(opts.TargetIM, opts.FallbackIM),
	}
}

// Start connects to the daemon, queries the initial input method and starts
// the listener. Connecting and the query are each bounded by
// Options.Timeout. A connect failure is reported, returned as *ConnectError,
// and leaves the engine loaded but inert. A failed initial query or
// subscription is reported but does not fail Start.
func (e *Engine) Start(ctx context.Context) error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()
	return e.start(ctx)
}

func (e *Engine) start(ctx context.Context) error {
	log := e.opts.Logger

	e.cache.reset()

	bus, err := e.dialBounded(ctx)
	if err != nil {
		var cerr *ConnectError
		if !errors.As(err, &cerr) {
			err = &ConnectError{Err: err}
		}
		log.Error("connect failed", "error", err)
		e.opts.Reporter.Report(err)
		return err
	}

	// Subscribe before the first query so no change between the two is
	// lost. The query result only fills an empty cache; a notification that
	// landed first is newer.
	listenCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lost := new(atomic.Bool)
	changes, err := bus.Subscribe(listenCtx)
	if err != nil {
		log.Warn("subscribe failed", "error", err)
		e.opts.Reporter.Report(err)
		close(done)
	} else {
		listener := NewListener(e.cache, e.opts.Reporter, log)
		listener.OnChange = e.opts.OnChange
		go func() {
			defer close(done)
			if err := listener.Run(listenCtx, changes); err != nil {
				lost.Store(true)
			}
		}()
	}

	qctx, qcancel := context.WithTimeout(ctx, e.opts.Timeout)
	name, err := bus.QueryActive(qctx)
	qcancel()
	if err != nil {
		log.Warn("initial query failed", "error", err)
		e.opts.Reporter.Report(err)
	} else {
		e.cache.Write(func(s *SyncState) {
			if s.ActiveIM == "" {
				s.ActiveIM = name
				s.Updated = time.Now()
			}
		})
		log.Info("connected", "im", name, "state", e.cache.Read().State())
	}

	ctrl := NewController(bus, e.cache, ControllerOptions{
		Timeout:      e.opts.Timeout,
		SwitchOnMode: e.opts.SwitchOnMode,
		Reporter:     e.opts.Reporter,
		Logger:       log,
	})

	e.mu.Lock()
	e.bus = bus
	e.ctrl = ctrl
	e.cancel = cancel
	e.done = done
	e.lost = lost
	e.mu.Unlock()
	return nil
}

// dialBounded dials with Options.Timeout. A dialer that ignores its context
// is abandoned at the deadline and its late connection closed.
func (e *Engine) dialBounded(ctx context.Context) (Bus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	type result struct {
		bus Bus
		err error
	}
	res := make(chan result, 1)
	go func() {
		bus, err := e.dial(ctx)
		res <- result{bus, err}
	}()

	select {
	case r := <-res:
		return r.bus, r.err
	case <-ctx.Done():
		go func() {
			if r := <-res; r.bus != nil {
				_ = r.bus.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Reconnect tears down the current session, if any, and starts a new one.
func (e *Engine) Reconnect(ctx context.Context) error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()
	e.stop()
	return e.start(ctx)
}

// Close stops the listener and closes the bus.
func (e *Engine) Close() error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()
	return e.stop()
}

func (e *Engine) stop() error {
	e.mu.Lock()
	bus, cancel, done := e.bus, e.cancel, e.done
	e.bus, e.ctrl, e.cancel, e.done, e.lost = nil, nil, nil, nil, nil
	e.mu.Unlock()

	if bus == nil {
		return nil
	}
	cancel()
	err := bus.Close()
	<-done
	return err
}

func (e *Engine) controller() *Controller {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctrl
}

// Connected reports whether Start has succeeded, Close has not been called
// and the listener has not seen the session drop.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctrl != nil && !e.lost.Load()
}

// Toggle handles the trigger key.
func (e *Engine) Toggle(ctx context.Context) error {
	c := e.controller()
	if c == nil {
		return ErrNotConnected
	}
	return c.Toggle(ctx)
}

// ModeChanged handles an editor mode transition.
func (e *Engine) ModeChanged(ctx context.Context, mode Mode) error {
	c := e.controller()
	if c == nil {
		e.cache.Write(func(s *SyncState) { s.Mode = mode })
		return ErrNotConnected
	}
	return c.ModeChanged(ctx, mode)
}

// ActivateTarget forces the target input method.
func (e *Engine) ActivateTarget(ctx context.Context) error {
	c := e.controller()
	if c == nil {
		return ErrNotConnected
	}
	return c.ActivateTarget(ctx)
}

// ActivateFallback forces the fallback input method.
func (e *Engine) ActivateFallback(ctx context.Context) error {
	c := e.controller()
	if c == nil {
		return ErrNotConnected
	}
	return c.ActivateFallback(ctx)
}

// ResetContext clears the daemon-side input context.
func (e *Engine) ResetContext(ctx context.Context) error {
	c := e.controller()
	if c == nil {
		return ErrNotConnected
	}
	return c.Reset(ctx)
}

// ActiveIM returns the cached active input method, "" when unknown. It never
// touches the bus.
func (e *Engine) ActiveIM() string {
	return e.cache.Read().ActiveIM
}

// Snapshot returns a copy of the full synchronization state.
func (e *Engine) Snapshot() SyncState {
	return e.cache.Read()
}
