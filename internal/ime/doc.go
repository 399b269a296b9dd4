// Package ime keeps an editor's input mode and the input method daemon's
// active input method in step.
//
// # Architecture Overview
//
// Two flows share one bus connection and meet in a single state cache:
//
//	editor key / mode event
//	     ↓
//	Controller ──Activate──▶ Bus ──▶ daemon
//	     │                             │
//	     ▼                             ▼ change signal
//	   Cache ◀──────────────── Listener
//	     ▲
//	Engine.ActiveIM (status line, never blocks)
//
// The Controller runs on the host's callback goroutine and is the only
// component that issues Activate calls. The Listener runs in its own goroutine
// and only ever writes what the daemon reported. Neither holds the cache lock
// while talking to the bus, so ActiveIM returns without waiting on IPC.
//
// # State Machine
//
//	┌──────────┬─────────────────────┬──────────────────────┐
//	│ State    │ Trigger key         │ Mode change          │
//	├──────────┼─────────────────────┼──────────────────────┤
//	│ Unknown  │ activate target     │ enter: target        │
//	│          │                     │ leave: fallback      │
//	│ Fallback │ activate target     │ enter: target        │
//	│          │                     │ leave: no bus call   │
//	│ Target   │ activate fallback   │ enter: no bus call   │
//	│          │                     │ leave: fallback      │
//	└──────────┴─────────────────────┴──────────────────────┘
//
// The cache is written only after the bus reports success. Failures are
// handed to a Reporter once and never escape into host callbacks.
//
// # Notifications
//
// The cache remembers the names of local Activate calls whose notification
// has not arrived. A notification matching the newest of them confirms it.
// One matching an older entry is the late echo of an Activate that a later
// press already replaced; it is dropped so the cache keeps the newer value.
// Anything else was caused outside this process (another client, the
// daemon's own hotkey) and simply overwrites the cached value; the next
// trigger works from there.
package ime
