package ime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds every bus call issued by the controller.
const DefaultTimeout = time.Second

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// Timeout bounds each bus call. Zero means DefaultTimeout.
	Timeout time.Duration

	// SwitchOnMode enables activation on insert enter/leave.
	SwitchOnMode bool

	Reporter Reporter
	Logger   *slog.Logger
}

// Controller maps editor triggers onto Activate calls.
//
// Calls are serialized: a trigger waits for the previous one to finish, so
// at most one Activate is in flight from this process.
type Controller struct {
	bus          Bus
	cache        *Cache
	reporter     Reporter
	logger       *slog.Logger
	timeout      time.Duration
	switchOnMode bool

	mu sync.Mutex
}

// NewController creates a controller driving bus and writing to cache.
func NewController(bus Bus, cache *Cache, opts ControllerOptions) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Reporter == nil {
		opts.Reporter = discardReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		bus:          bus,
		cache:        cache,
		reporter:     opts.Reporter,
		logger:       opts.Logger,
		timeout:      opts.Timeout,
		switchOnMode: opts.SwitchOnMode,
	}
}

// Toggle handles a trigger key press. From Target it activates the fallback
// input method; from Fallback or Unknown it activates the target.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.cache.Read()
	name := st.TargetIM
	if st.State() == StateTarget {
		name = st.FallbackIM
	}
	return c.activate(ctx, "toggle", name)
}

// ModeChanged records the editor mode and, when mode switching is enabled,
// activates the target on entering insert mode and the fallback on leaving
// it. Nothing is sent if the daemon is already in the wanted state.
func (c *Controller) ModeChanged(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Write(func(s *SyncState) { s.Mode = mode })
	if !c.switchOnMode {
		return nil
	}
	if mode == ModeInsert {
		return c.ensure(ctx, "insert-enter", StateTarget)
	}
	return c.ensure(ctx, "insert-leave", StateFallback)
}

// ActivateTarget makes the target input method active unless it already is.
func (c *Controller) ActivateTarget(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensure(ctx, "command", StateTarget)
}

// ActivateFallback makes the fallback input method active unless it already is.
func (c *Controller) ActivateFallback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensure(ctx, "command", StateFallback)
}

// Reset clears the daemon-side input context. The cache is not touched.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.bus.Reset(ctx); err != nil {
		c.logger.Warn("reset input context failed", "error", err)
		c.reporter.Report(err)
		return err
	}
	return nil
}

func (c *Controller) ensure(ctx context.Context, reason string, want State) error {
	st := c.cache.Read()
	if st.State() == want {
		c.logger.Debug("already in wanted state", "reason", reason, "state", want, "im", st.ActiveIM)
		return nil
	}
	name := st.TargetIM
	if want == StateFallback {
		name = st.FallbackIM
	}
	return c.activate(ctx, reason, name)
}

// activate issues one bus call and updates the cache only on success.
func (c *Controller) activate(ctx context.Context, reason, name string) error {
	log := c.logger.With(
		slog.String("action", uuid.NewString()),
		slog.String("reason", reason),
		slog.String("im", name),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.bus.Activate(ctx, name); err != nil {
		log.Warn("activate failed", "error", err, "elapsed", time.Since(start))
		c.reporter.Report(err)
		return err
	}

	c.cache.recordLocal(name)
	log.Debug("activated", "elapsed", time.Since(start))
	return nil
}
