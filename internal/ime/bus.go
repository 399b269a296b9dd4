package ime

import "context"

// Change is an unsolicited notification that the daemon's active input
// method changed, for any reason.
type Change struct {
	NewActive string
}

// Bus is the connection to the input method daemon.
//
// Implementations perform no retries. Failures are *CommandError values whose
// kind is ErrRejected, ErrTimeout or ErrDisconnected. After a disconnect every
// call fails immediately with ErrDisconnected.
type Bus interface {
	// Activate makes name the active input method.
	Activate(ctx context.Context, name string) error

	// QueryActive returns the daemon's current input method.
	QueryActive(ctx context.Context) (string, error)

	// Subscribe starts the change stream. The channel is closed when the
	// session ends or ctx is cancelled. A new call is required after a
	// reconnect.
	Subscribe(ctx context.Context) (<-chan Change, error)

	// Reset clears the client's input context (preedit, candidates).
	Reset(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Dialer opens a Bus. A failure should be a *ConnectError.
type Dialer func(ctx context.Context) (Bus, error)

// Reporter surfaces non-fatal failures to the user, e.g. as an editor
// message. It must not block for long; it is called from both the host
// callback goroutine and the listener goroutine.
type Reporter interface {
	Report(err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(err error)

// Report calls f(err).
func (f ReporterFunc) Report(err error) { f(err) }

type discardReporter struct{}

func (discardReporter) Report(error) {}
