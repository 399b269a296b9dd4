// Package fcitx5 talks to the fcitx5 input method daemon over the D-Bus
// session bus and implements ime.Bus.
package fcitx5

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"imsync/internal/ime"
)

// fcitx5 D-Bus constants
const (
	Service               = "org.fcitx.Fcitx5"
	ControllerPath        = "/controller"
	ControllerInterface   = "org.fcitx.Fcitx.Controller1"
	InputMethodPath       = "/org/freedesktop/portal/inputmethod"
	InputMethodInterface  = "org.fcitx.Fcitx.InputMethod1"
	InputContextInterface = "org.fcitx.Fcitx.InputContext1"

	busService   = "org.freedesktop.DBus"
	busInterface = "org.freedesktop.DBus"
)

var (
	// ErrDaemonNotRunning means nothing owns the fcitx5 bus name.
	ErrDaemonNotRunning = errors.New("fcitx5 is not running on the session bus")

	// ErrUnknownInputMethod means the name is not among the daemon's
	// available input methods.
	ErrUnknownInputMethod = errors.New("no such input method")
)

// Options configures a Client.
type Options struct {
	// Program is announced to fcitx5 when creating the input context.
	Program string

	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{Program: "imsync"}
}

// InputMethod describes one entry of AvailableInputMethods.
type InputMethod struct {
	UniqueName   string `json:"unique_name"`
	Name         string `json:"name"`
	NativeName   string `json:"native_name"`
	Icon         string `json:"icon"`
	Label        string `json:"label"`
	LanguageCode string `json:"language_code"`
	Configurable bool   `json:"configurable"`
}

type icArg struct {
	Key   string
	Value string
}

// Client is a private session-bus connection with one fcitx5 input context.
type Client struct {
	conn       *dbus.Conn
	controller dbus.BusObject
	ic         dbus.BusObject
	icPath     dbus.ObjectPath
	log        *slog.Logger

	mu    sync.Mutex
	known map[string]struct{}
	lost  bool
}

var _ ime.Bus = (*Client)(nil)

// Connect opens the connection, checks that fcitx5 is running and creates
// an input context. Every failure is an *ime.ConnectError.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.Program == "" {
		opts.Program = DefaultOptions().Program
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, &ime.ConnectError{Err: fmt.Errorf("session bus: %w", err)}
	}

	var hasOwner bool
	err = conn.BusObject().CallWithContext(ctx, busInterface+".NameHasOwner", 0, Service).Store(&hasOwner)
	if err != nil {
		conn.Close()
		return nil, &ime.ConnectError{Err: fmt.Errorf("lookup %s: %w", Service, err)}
	}
	if !hasOwner {
		conn.Close()
		return nil, &ime.ConnectError{Err: ErrDaemonNotRunning}
	}

	var (
		icPath dbus.ObjectPath
		icUUID []byte
	)
	im := conn.Object(Service, InputMethodPath)
	err = im.CallWithContext(ctx, InputMethodInterface+".CreateInputContext", 0,
		[]icArg{{Key: "program", Value: opts.Program}}).Store(&icPath, &icUUID)
	if err != nil {
		conn.Close()
		return nil, &ime.ConnectError{Err: fmt.Errorf("create input context: %w", err)}
	}

	c := &Client{
		conn:       conn,
		controller: conn.Object(Service, ControllerPath),
		ic:         conn.Object(Service, icPath),
		icPath:     icPath,
		log:        opts.Logger.With("ic", string(icPath)),
	}
	c.log.Debug("fcitx5 input context created")
	return c, nil
}

// Dialer returns an ime.Dialer connecting with opts.
func Dialer(opts Options) ime.Dialer {
	return func(ctx context.Context) (ime.Bus, error) {
		c, err := Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Activate focuses the client's input context and makes name the current
// input method. Names the daemon does not list are rejected without a call.
func (c *Client) Activate(ctx context.Context, name string) error {
	const op = "activate"
	if err := c.alive(op, name); err != nil {
		return err
	}

	known, err := c.isKnown(ctx, name)
	if err != nil {
		return c.wrap(op, name, err)
	}
	if !known {
		return ime.NewCommandError(op, name, ime.ErrRejected, ErrUnknownInputMethod)
	}

	// SetCurrentIM applies to the focused input context.
	if err := c.ic.CallWithContext(ctx, InputContextInterface+".FocusIn", 0).Err; err != nil {
		return c.wrap(op, name, err)
	}
	if err := c.controller.CallWithContext(ctx, ControllerInterface+".SetCurrentIM", 0, name).Err; err != nil {
		return c.wrap(op, name, err)
	}
	return nil
}

// QueryActive returns the daemon's current input method.
func (c *Client) QueryActive(ctx context.Context) (string, error) {
	const op = "query"
	if err := c.alive(op, ""); err != nil {
		return "", err
	}
	var name string
	if err := c.controller.CallWithContext(ctx, ControllerInterface+".CurrentInputMethod", 0).Store(&name); err != nil {
		return "", c.wrap(op, "", err)
	}
	return name, nil
}

// Reset clears preedit and candidates of the client's input context.
func (c *Client) Reset(ctx context.Context) error {
	const op = "reset"
	if err := c.alive(op, ""); err != nil {
		return err
	}
	if err := c.ic.CallWithContext(ctx, InputContextInterface+".Reset", 0).Err; err != nil {
		return c.wrap(op, "", err)
	}
	return nil
}

// AvailableInputMethods lists the input methods the daemon knows.
func (c *Client) AvailableInputMethods(ctx context.Context) ([]InputMethod, error) {
	const op = "list"
	if err := c.alive(op, ""); err != nil {
		return nil, err
	}
	var ims []InputMethod
	if err := c.controller.CallWithContext(ctx, ControllerInterface+".AvailableInputMethods", 0).Store(&ims); err != nil {
		return nil, c.wrap(op, "", err)
	}

	known := make(map[string]struct{}, len(ims))
	for _, im := range ims {
		known[im.UniqueName] = struct{}{}
	}
	c.mu.Lock()
	c.known = known
	c.mu.Unlock()
	return ims, nil
}

// isKnown checks name against the cached list, refreshing it once on a miss.
func (c *Client) isKnown(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	_, ok := c.known[name]
	c.mu.Unlock()
	if ok {
		return true, nil
	}
	if _, err := c.AvailableInputMethods(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok = c.known[name]
	return ok, nil
}

// Close releases the connection. Subscriptions end.
func (c *Client) Close() error {
	c.markLost()
	return c.conn.Close()
}

func (c *Client) markLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = true
}

func (c *Client) alive(op, name string) error {
	c.mu.Lock()
	lost := c.lost
	c.mu.Unlock()
	if lost || !c.conn.Connected() {
		return ime.NewCommandError(op, name, ime.ErrDisconnected, nil)
	}
	return nil
}

// wrap converts a godbus failure into an *ime.CommandError.
func (c *Client) wrap(op, name string, err error) error {
	var cerr *ime.CommandError
	if errors.As(err, &cerr) {
		return err
	}
	kind, lost := classifyError(err)
	if lost || !c.conn.Connected() {
		c.markLost()
		kind = ime.ErrDisconnected
	}
	return ime.NewCommandError(op, name, kind, err)
}

// classifyError maps a call error onto a failure kind. lost is true when the
// session or the daemon is gone for good. Errors that are not D-Bus replies,
// such as a reply that does not decode, leave the session usable; a broken
// transport is caught by wrap through Conn.Connected.
func classifyError(err error) (kind error, lost bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ime.ErrTimeout, false
	case errors.Is(err, dbus.ErrClosed):
		return ime.ErrDisconnected, true
	}

	name, ok := dbusErrorName(err)
	if !ok {
		return ime.ErrRejected, false
	}
	switch name {
	case "org.freedesktop.DBus.Error.NoReply",
		"org.freedesktop.DBus.Error.Timeout",
		"org.freedesktop.DBus.Error.TimedOut":
		return ime.ErrTimeout, false
	case "org.freedesktop.DBus.Error.ServiceUnknown",
		"org.freedesktop.DBus.Error.NameHasNoOwner",
		"org.freedesktop.DBus.Error.Disconnected":
		return ime.ErrDisconnected, true
	default:
		return ime.ErrRejected, false
	}
}

func dbusErrorName(err error) (string, bool) {
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Name, true
	}
	var p *dbus.Error
	if errors.As(err, &p) && p != nil {
		return p.Name, true
	}
	return "", false
}
