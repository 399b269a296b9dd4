package ime

import (
	"context"
	"log/slog"
)

// Listener drains daemon change notifications into the cache.
//
// It never calls the bus and never drives the controller. A notification
// matching a local Activate is that Activate echoing back; anything else is
// an external change and is honored as-is.
type Listener struct {
	cache    *Cache
	reporter Reporter
	logger   *slog.Logger

	// OnChange, if set, is called on the listener goroutine with the state
	// after every notification that changed ActiveIM.
	OnChange func(SyncState)
}

// NewListener creates a listener writing into cache.
func NewListener(cache *Cache, reporter Reporter, logger *slog.Logger) *Listener {
	if reporter == nil {
		reporter = discardReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{cache: cache, reporter: reporter, logger: logger}
}

// Run consumes changes until ctx is cancelled (returns nil) or the stream
// ends. A stream that ends on its own means the session dropped: the
// disconnection is reported once and returned.
func (l *Listener) Run(ctx context.Context, changes <-chan Change) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				err := NewCommandError("listen", "", ErrDisconnected, nil)
				l.logger.Warn("notification stream ended", "error", err)
				l.reporter.Report(err)
				return err
			}
			l.apply(ch)
		}
	}
}

func (l *Listener) apply(ch Change) {
	if ch.NewActive == "" {
		return
	}
	prev, kind, changed := l.cache.observe(ch.NewActive)
	switch kind {
	case changeEcho:
		l.logger.Debug("change confirms local action", "im", ch.NewActive)
	case changeStaleEcho:
		l.logger.Debug("superseded local action echoed", "im", ch.NewActive, "active", prev)
	default:
		if changed {
			l.logger.Info("external input method change", "from", prev, "to", ch.NewActive)
		}
	}
	if changed && l.OnChange != nil {
		l.OnChange(l.cache.Read())
	}
}
