package ime

import (
	"sync"
	"time"
)

// Mode is the editor's input mode as reported by the host.
type Mode int

const (
	// ModeOther is any mode that is not insert (normal, visual, command...).
	ModeOther Mode = iota
	// ModeInsert is the text-entry mode.
	ModeInsert
)

func (m Mode) String() string {
	if m == ModeInsert {
		return "insert"
	}
	return "other"
}

// State is the controller's view of the active input method.
type State int

const (
	StateUnknown State = iota
	StateFallback
	StateTarget
)

func (s State) String() string {
	switch s {
	case StateFallback:
		return "fallback"
	case StateTarget:
		return "target"
	default:
		return "unknown"
	}
}

// SyncState is the payload of the Cache.
type SyncState struct {
	// ActiveIM is the last known active input method, "" before the first
	// successful query.
	ActiveIM string
	// TargetIM is activated when entering insert mode.
	TargetIM string
	// FallbackIM is restored when leaving insert mode.
	FallbackIM string
	// LastLocalAction is the name most recently activated by the controller.
	LastLocalAction string
	// Mode is the last editor mode reported by the host.
	Mode Mode
	// Updated is when ActiveIM was last written.
	Updated time.Time
}

// State maps ActiveIM onto the controller states.
func (s SyncState) State() State {
	switch {
	case s.ActiveIM == "":
		return StateUnknown
	case s.ActiveIM == s.TargetIM:
		return StateTarget
	case s.ActiveIM == s.FallbackIM:
		return StateFallback
	default:
		return StateUnknown
	}
}

// Cache is the process-wide synchronization state. All access goes through
// Read and Write; the lock is never held across bus calls.
type Cache struct {
	mu    sync.RWMutex
	state SyncState

	// pending holds locally activated names, oldest first, whose change
	// notification has not arrived yet.
	pending []string
}

// maxPending bounds pending for daemons that do not echo every activate.
const maxPending = 8

// NewCache creates a cache with no known active input method.
func NewCache(target, fallback string) *Cache {
	return &Cache{state: SyncState{TargetIM: target, FallbackIM: fallback}}
}

// Read returns a snapshot of the state.
func (c *Cache) Read() SyncState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Write applies fn as a single atomic update.
func (c *Cache) Write(fn func(s *SyncState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}

// recordLocal stores the result of a successful local activate and expects
// its echo.
func (c *Cache) recordLocal(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ActiveIM = name
	c.state.LastLocalAction = name
	c.state.Updated = time.Now()
	c.pending = append(c.pending, name)
	if len(c.pending) > maxPending {
		c.pending = c.pending[len(c.pending)-maxPending:]
	}
}

// changeKind classifies a daemon notification.
type changeKind int

const (
	changeExternal changeKind = iota
	changeEcho
	// changeStaleEcho is the echo of a local activate that a later local
	// activate has already superseded.
	changeStaleEcho
)

// observe applies a daemon-reported change. Echoes arrive in activation
// order, so a match consumes every older pending entry; a match that is not
// the newest entry is stale and leaves ActiveIM alone.
func (c *Cache) observe(name string) (prev string, kind changeKind, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev = c.state.ActiveIM
	for i, p := range c.pending {
		if p != name {
			continue
		}
		kind = changeEcho
		if i < len(c.pending)-1 {
			kind = changeStaleEcho
		}
		c.pending = c.pending[i+1:]
		break
	}
	if kind == changeStaleEcho || name == prev {
		return prev, kind, false
	}
	c.state.ActiveIM = name
	c.state.Updated = time.Now()
	return prev, kind, true
}

// reset forgets the active input method and any expected echoes.
func (c *Cache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ActiveIM = ""
	c.state.LastLocalAction = ""
	c.pending = nil
}
