package metrics

import "time"

// Sync holds the metrics one editor session records.
type Sync struct {
	registry *Registry

	Triggers    *Counter
	ModeChanges *Counter
	Resets      *Counter
	Reconnects  *Counter
	// ActionDuration covers a whole handler, bus round trips included.
	ActionDuration *Histogram
}

// NewSync registers the session metrics in registry.
func NewSync(registry *Registry) *Sync {
	if registry == nil {
		registry = NewRegistry("imsync")
	}
	return &Sync{
		registry:       registry,
		Triggers:       registry.Counter("triggers_total", "Trigger key presses handled", nil),
		ModeChanges:    registry.Counter("mode_changes_total", "Editor mode transitions handled", nil),
		Resets:         registry.Counter("context_resets_total", "Input context resets requested", nil),
		Reconnects:     registry.Counter("reconnects_total", "Explicit reconnects requested", nil),
		ActionDuration: registry.Histogram("action_duration_seconds", "Time spent in editor handlers", nil),
	}
}

// Failure counts a reported error of the given kind.
func (s *Sync) Failure(kind string) {
	s.registry.Counter("failures_total", "Errors reported to the editor", Labels{"kind": kind}).Inc()
}

// Failures returns the number of reported errors of kind.
func (s *Sync) Failures(kind string) uint64 {
	return s.registry.Counter("failures_total", "Errors reported to the editor", Labels{"kind": kind}).Value()
}

// Time records the duration of fn.
func (s *Sync) Time(fn func()) {
	start := time.Now()
	fn()
	s.ActionDuration.Since(start)
}

// Registry returns the registry the metrics live in.
func (s *Sync) Registry() *Registry { return s.registry }
