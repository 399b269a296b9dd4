package fcitx5

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"

	"imsync/internal/ime"
)

const (
	currentIMSignal        = InputContextInterface + ".CurrentIM"
	nameOwnerChangedSignal = busInterface + ".NameOwnerChanged"

	// signalTimeout bounds how long a notification waits for a slow
	// consumer before it is dropped.
	signalTimeout = 5 * time.Second
)

// Subscribe streams CurrentIM signals of the client's input context. The
// stream ends when the connection closes, fcitx5 leaves the bus, or ctx is
// cancelled.
func (c *Client) Subscribe(ctx context.Context) (<-chan ime.Change, error) {
	const op = "subscribe"
	if err := c.alive(op, ""); err != nil {
		return nil, err
	}

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath(c.icPath),
			dbus.WithMatchInterface(InputContextInterface),
			dbus.WithMatchMember("CurrentIM"),
		},
		{
			dbus.WithMatchSender(busService),
			dbus.WithMatchInterface(busInterface),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg(0, Service),
		},
	}
	for _, m := range matches {
		if err := c.conn.AddMatchSignalContext(ctx, m...); err != nil {
			return nil, c.wrap(op, "", err)
		}
	}

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)

	out := make(chan ime.Change)
	go func() {
		defer close(out)
		defer c.conn.RemoveSignal(signals)

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					c.markLost()
					return
				}
				change, lost, ok := classifySignal(sig, c.icPath)
				if lost {
					c.log.Warn("fcitx5 left the session bus")
					c.markLost()
					return
				}
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				case <-time.After(signalTimeout):
					c.log.Warn("dropped input method change", "im", change.NewActive)
				}
			}
		}
	}()
	return out, nil
}

// classifySignal turns a raw signal into a change. lost is set when the
// daemon's bus name lost its owner.
func classifySignal(sig *dbus.Signal, icPath dbus.ObjectPath) (change ime.Change, lost, ok bool) {
	if sig == nil {
		return ime.Change{}, false, false
	}
	switch sig.Name {
	case currentIMSignal:
		if sig.Path != icPath || len(sig.Body) < 2 {
			return ime.Change{}, false, false
		}
		// CurrentIM(name, uniqueName, languageCode)
		unique, _ := sig.Body[1].(string)
		if unique == "" {
			return ime.Change{}, false, false
		}
		return ime.Change{NewActive: unique}, false, true
	case nameOwnerChangedSignal:
		if len(sig.Body) < 3 {
			return ime.Change{}, false, false
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if name == Service && newOwner == "" {
			return ime.Change{}, true, false
		}
	}
	return ime.Change{}, false, false
}
