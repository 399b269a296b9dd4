//go:build linux

// imsyncctl is the command-line companion of imsync-nvim. It talks to fcitx5
// directly and is useful for checking names and connectivity before wiring
// them into the editor.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"imsync/internal/config"
	"imsync/internal/fcitx5"
	"imsync/internal/ime"
	"imsync/internal/logging"
)

var (
	configPath = flag.String("config", "", "path to config file")
	jsonOut    = flag.Bool("json", false, "print machine-readable output")
	verbose    = flag.Bool("v", false, "log debug output to stderr")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	if cmd == "help" {
		usage()
		return
	}

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{cfg: cfg, out: os.Stdout, log: newLogger(*verbose)}
	c.dial = fcitx5.Dialer(fcitx5.Options{Program: "imsyncctl", Logger: c.log.Logger})

	switch cmd {
	case "status":
		err = c.status(ctx)
	case "get":
		err = c.get(ctx)
	case "list":
		err = c.list(ctx)
	case "activate":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: imsyncctl activate <im>")
			os.Exit(1)
		}
		err = c.activate(ctx, flag.Arg(1))
	case "toggle":
		err = c.toggle(ctx)
	case "watch":
		err = c.watch(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `imsyncctl - Control utility for fcitx5 input method sync

Usage: imsyncctl [options] <command> [args]

Commands:
  status          Show connection, current and configured input methods
  get             Print the current input method
  list            List the input methods fcitx5 offers
  activate <im>   Switch to the named input method
  toggle          Switch between im_active and im_inactive
  watch           Print input method changes until interrupted
  help            Show this help message

Options:
  -config <path>  Path to config file (default: $XDG_CONFIG_HOME/imsync/config.toml)
  -json           Print JSON
  -v              Debug logging to stderr`)
}

func newLogger(debug bool) *logging.Logger {
	cfg := &logging.Config{Level: logging.LevelWarn, Output: "stderr", Component: "imsyncctl"}
	if debug {
		cfg.Level = logging.LevelDebug
	}
	l, err := logging.New(cfg)
	if err != nil {
		return logging.Default()
	}
	return l
}

// cli holds what every command needs.
type cli struct {
	cfg  *config.Config
	out  io.Writer
	log  *logging.Logger
	dial ime.Dialer
}

func (c *cli) timeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Timeout())
}

// connect dials the daemon with the configured timeout.
func (c *cli) connect(ctx context.Context) (ime.Bus, error) {
	cctx, cancel := c.timeoutCtx(ctx)
	defer cancel()
	return c.dial(cctx)
}

type statusReport struct {
	Connected  bool   `json:"connected"`
	Error      string `json:"error,omitempty"`
	Current    string `json:"current,omitempty"`
	State      string `json:"state"`
	TargetIM   string `json:"im_active"`
	FallbackIM string `json:"im_inactive"`
	OnKey      string `json:"on_key,omitempty"`
	Available  int    `json:"available"`
}

func (c *cli) status(ctx context.Context) error {
	rep := statusReport{
		TargetIM:   c.cfg.Sync.TargetIM,
		FallbackIM: c.cfg.Sync.FallbackIM,
		OnKey:      c.cfg.Sync.OnKey,
		State:      ime.StateUnknown.String(),
	}

	bus, err := c.connect(ctx)
	if err != nil {
		rep.Error = err.Error()
		return c.print(rep, func(w io.Writer) { printStatus(w, rep) })
	}
	defer bus.Close()
	rep.Connected = true

	qctx, cancel := c.timeoutCtx(ctx)
	defer cancel()
	if rep.Current, err = bus.QueryActive(qctx); err != nil {
		rep.Error = err.Error()
	}
	st := ime.SyncState{ActiveIM: rep.Current, TargetIM: rep.TargetIM, FallbackIM: rep.FallbackIM}
	rep.State = st.State().String()

	if client, ok := bus.(*fcitx5.Client); ok {
		if ims, err := client.AvailableInputMethods(qctx); err == nil {
			rep.Available = len(ims)
		}
	}
	return c.print(rep, func(w io.Writer) { printStatus(w, rep) })
}

func printStatus(w io.Writer, rep statusReport) {
	fmt.Fprintln(w, "=== imsync Status ===")
	fmt.Fprintln(w)
	if rep.Connected {
		fmt.Fprintln(w, "fcitx5: CONNECTED")
	} else {
		fmt.Fprintln(w, "fcitx5: NOT CONNECTED")
	}
	if rep.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", rep.Error)
	}
	if rep.Connected {
		fmt.Fprintf(w, "  Current IM: %s (%s)\n", rep.Current, rep.State)
		fmt.Fprintf(w, "  Available IMs: %d\n", rep.Available)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  im_active:   %s\n", rep.TargetIM)
	fmt.Fprintf(w, "  im_inactive: %s\n", rep.FallbackIM)
	if rep.OnKey != "" {
		fmt.Fprintf(w, "  on_key:      %s\n", rep.OnKey)
	}
}

func (c *cli) get(ctx context.Context) error {
	bus, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	qctx, cancel := c.timeoutCtx(ctx)
	defer cancel()
	name, err := bus.QueryActive(qctx)
	if err != nil {
		return err
	}
	return c.print(map[string]string{"current": name}, func(w io.Writer) { fmt.Fprintln(w, name) })
}

func (c *cli) list(ctx context.Context) error {
	bus, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	client, ok := bus.(*fcitx5.Client)
	if !ok {
		return fmt.Errorf("listing is not supported by %T", bus)
	}
	qctx, cancel := c.timeoutCtx(ctx)
	defer cancel()
	ims, err := client.AvailableInputMethods(qctx)
	if err != nil {
		return err
	}
	current, _ := client.QueryActive(qctx)

	return c.print(ims, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tNAME\tLABEL\tLANG\tROLE")
		for _, im := range ims {
			mark := ""
			if im.UniqueName == current {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, im.UniqueName, im.Name, im.LanguageCode, c.role(im.UniqueName))
		}
		tw.Flush()
	})
}

func (c *cli) role(name string) string {
	switch name {
	case c.cfg.Sync.TargetIM:
		return "im_active"
	case c.cfg.Sync.FallbackIM:
		return "im_inactive"
	}
	return ""
}

func (c *cli) activate(ctx context.Context, name string) error {
	bus, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	actx, cancel := c.timeoutCtx(ctx)
	defer cancel()
	if err := bus.Activate(actx, name); err != nil {
		return err
	}
	return c.print(map[string]string{"current": name}, func(w io.Writer) { fmt.Fprintf(w, "current IM: %s\n", name) })
}

// toggle runs one trigger press through the engine, so it follows the same
// rules as the editor key.
func (c *cli) toggle(ctx context.Context) error {
	e := c.engine(nil, nil)
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Close()

	if err := e.Toggle(ctx); err != nil {
		return err
	}
	name := e.ActiveIM()
	return c.print(map[string]string{"current": name}, func(w io.Writer) { fmt.Fprintf(w, "current IM: %s\n", name) })
}

// watch prints every change the daemon announces until ctx ends or the
// session drops.
func (c *cli) watch(ctx context.Context) error {
	lost := make(chan error, 1)
	events := make(chan ime.SyncState, 16)
	quit := make(chan struct{})

	e := c.engine(ime.ReporterFunc(func(err error) {
		if ime.KindOf(err) != ime.ErrDisconnected {
			return
		}
		select {
		case lost <- err:
		default:
		}
	}), func(st ime.SyncState) {
		select {
		case events <- st:
		case <-quit:
		}
	})
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Close()
	defer close(quit)

	c.printChange(e.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-events:
			c.printChange(st)
		case err := <-lost:
			// Changes seen before the stream ended are already queued.
			for {
				select {
				case st := <-events:
					c.printChange(st)
				default:
					return err
				}
			}
		}
	}
}

func (c *cli) printChange(st ime.SyncState) {
	type change struct {
		Time    time.Time `json:"time"`
		Current string    `json:"current"`
		State   string    `json:"state"`
	}
	ch := change{Time: time.Now(), Current: st.ActiveIM, State: st.State().String()}
	_ = c.print(ch, func(w io.Writer) {
		fmt.Fprintf(w, "%s  %s (%s)\n", ch.Time.Format("15:04:05"), ch.Current, ch.State)
	})
}

func (c *cli) engine(rep ime.Reporter, onChange func(ime.SyncState)) *ime.Engine {
	return ime.NewEngine(c.dial, ime.Options{
		TargetIM:   c.cfg.Sync.TargetIM,
		FallbackIM: c.cfg.Sync.FallbackIM,
		Timeout:    c.cfg.Timeout(),
		Reporter:   rep,
		Logger:     c.log.WithComponent("ime").Logger,
		OnChange:   onChange,
	})
}

// print writes v as JSON with -json and calls text otherwise.
func (c *cli) print(v any, text func(io.Writer)) error {
	if *jsonOut {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.out)
	return nil
}
