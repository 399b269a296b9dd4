//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"imsync/internal/config"
	"imsync/internal/fcitx5"
	"imsync/internal/ime"
	"imsync/internal/logging"
	"imsync/internal/metrics"
)

const toggleRHS = "<Cmd>call Fcitx5ToggleIM()<CR>"

// editor is the part of the Neovim API the host uses. *nvim.Nvim satisfies it.
type editor interface {
	WriteOut(str string) error
	WritelnErr(str string) error
	SetKeyMap(mode, lhs, rhs string, opts map[string]bool) error
	DeleteKeyMap(mode, lhs string) error
}

// host binds editor events to an ime.Engine. Handler errors from the engine
// have already been reported to the user and are not returned to Neovim.
type host struct {
	nv     editor
	cfg    *config.Config
	stats  *metrics.Sync
	dialer func(fcitx5.Options) ime.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	log    *logging.Logger
	engine *ime.Engine
	mapped string
}

func newHost(nv editor, cfg *config.Config, log *logging.Logger) *host {
	ctx, cancel := context.WithCancel(context.Background())
	return &host{
		nv:     nv,
		cfg:    cfg,
		log:    log,
		stats:  metrics.NewSync(nil),
		dialer: fcitx5.Dialer,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (h *host) logger() *logging.Logger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log
}

// report shows err in the editor's message area.
func (h *host) report(err error) {
	if err == nil {
		return
	}
	h.stats.Failure(kindName(err))
	log := h.logger()
	log.Warn("reported to editor", "error", err)
	if werr := h.nv.WritelnErr("imsync: " + err.Error()); werr != nil {
		log.Debug("write error message", "error", werr)
	}
}

// setLogLevel applies a log level from a config reload.
func (h *host) setLogLevel(lc config.LoggingConfig) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return
	}
	log := h.logger()
	log.SetLevel(level)
	log.Info("log level changed", "level", lc.Level)
}

// reopenLog switches logging to the file cfg names. Naming a file implies
// file output.
func (h *host) reopenLog(cfg *config.Config) {
	lc, err := cfg.LoggerConfig("imsync-nvim")
	if err != nil {
		h.report(err)
		return
	}
	if lc.Output == "auto" || lc.Output == "stdout" {
		lc.Output = "file"
	}
	next, err := logging.New(lc)
	if err != nil {
		h.report(fmt.Errorf("open log file: %w", err))
		return
	}

	h.mu.Lock()
	prev := h.log
	h.log = next
	h.mu.Unlock()

	logging.SetDefault(next)
	next.Info("log file changed", "path", lc.FilePath, "previous", prev.FilePath())
	if err := prev.Close(); err != nil {
		next.Debug("close previous log", "error", err)
	}
}

func (h *host) current() *ime.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

// setup applies the editor's options, maps the trigger key and starts the
// engine. A connect failure is reported and leaves the plugin inert.
func (h *host) setup(opts map[string]any) error {
	prevLogFile := h.cfg.Clone().Logging.FilePath
	if err := h.cfg.ApplyOptions(opts); err != nil {
		h.report(fmt.Errorf("setup: %w", err))
		return nil
	}

	cfg := h.cfg.Clone()
	h.stopEngine()

	if cfg.Logging.FilePath != prevLogFile {
		h.reopenLog(cfg)
	}
	log := h.logger()
	if lc, err := cfg.LoggerConfig(""); err == nil {
		log.SetLevel(lc.Level)
	}

	if err := h.mapTrigger(cfg); err != nil {
		h.report(err)
	}

	engine := ime.NewEngine(h.dialer(fcitx5.Options{
		Program: cfg.Sync.ProgramName,
		Logger:  log.WithComponent("fcitx5").Logger,
	}), ime.Options{
		TargetIM:     cfg.Sync.TargetIM,
		FallbackIM:   cfg.Sync.FallbackIM,
		SwitchOnMode: cfg.Sync.SwitchOnMode,
		Timeout:      cfg.Timeout(),
		Reporter:     ime.ReporterFunc(h.report),
		Logger:       log.WithComponent("ime").Logger,
	})

	h.mu.Lock()
	h.engine = engine
	h.mu.Unlock()

	if err := engine.Start(h.ctx); err != nil {
		log.Warn("engine not connected", "error", err)
	}
	return nil
}

// stopEngine detaches and closes the current engine, if any. Handlers are
// inert afterwards.
func (h *host) stopEngine() {
	h.mu.Lock()
	old := h.engine
	h.engine = nil
	h.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			h.logger().Debug("close previous engine", "error", err)
		}
	}
}

// unmapTrigger removes the trigger mapping set by mapTrigger.
func (h *host) unmapTrigger() {
	h.mu.Lock()
	prev := h.mapped
	h.mapped = ""
	h.mu.Unlock()

	if prev == "" {
		return
	}
	for _, mode := range []string{"n", "i"} {
		_ = h.nv.DeleteKeyMap(mode, prev)
	}
}

// mapTrigger maps the trigger key in normal and insert mode, replacing a
// previous mapping.
func (h *host) mapTrigger(cfg *config.Config) error {
	h.unmapTrigger()

	lhs, ok := cfg.Trigger()
	if !ok {
		return nil
	}
	for _, mode := range []string{"n", "i"} {
		if err := h.nv.SetKeyMap(mode, lhs, toggleRHS, map[string]bool{"noremap": true, "silent": true}); err != nil {
			return fmt.Errorf("map %s: %w", lhs, err)
		}
	}

	h.mu.Lock()
	h.mapped = lhs
	h.mu.Unlock()
	h.logger().Debug("trigger key mapped", "lhs", lhs)
	return nil
}

func (h *host) activeIM() string {
	e := h.current()
	if e == nil {
		return ""
	}
	return e.ActiveIM()
}

func (h *host) toggle() {
	if e := h.current(); e != nil {
		h.stats.Triggers.Inc()
		h.stats.Time(func() { _ = e.Toggle(h.ctx) })
	}
}

func (h *host) modeChanged(mode ime.Mode) {
	if e := h.current(); e != nil {
		h.stats.ModeChanges.Inc()
		h.stats.Time(func() { _ = e.ModeChanged(h.ctx, mode) })
	}
}

func (h *host) leave() {
	if !h.cfg.Clone().Sync.ResetOnLeave {
		return
	}
	if e := h.current(); e != nil && e.Connected() {
		h.stats.Resets.Inc()
		h.stats.Time(func() { _ = e.ResetContext(h.ctx) })
	}
}

// toggleCommand toggles and echoes the resulting input method.
func (h *host) toggleCommand() error {
	e := h.current()
	if e == nil {
		return h.notSetUp()
	}
	if err := e.Toggle(h.ctx); err != nil {
		return nil
	}
	return h.nv.WriteOut(fmt.Sprintf("current IM: %s\n", e.ActiveIM()))
}

func (h *host) activateCommand() error {
	e := h.current()
	if e == nil {
		return h.notSetUp()
	}
	_ = e.ActivateTarget(h.ctx)
	return nil
}

func (h *host) deactivateCommand() error {
	e := h.current()
	if e == nil {
		return h.notSetUp()
	}
	_ = e.ActivateFallback(h.ctx)
	return nil
}

func (h *host) reconnectCommand() error {
	e := h.current()
	if e == nil {
		return h.notSetUp()
	}
	h.stats.Reconnects.Inc()
	if err := e.Reconnect(h.ctx); err != nil {
		return nil
	}
	return h.nv.WriteOut(fmt.Sprintf("imsync: connected, current IM: %s\n", e.ActiveIM()))
}

func (h *host) statusCommand() error {
	e := h.current()
	if e == nil {
		return h.notSetUp()
	}
	return h.nv.WriteOut(statusText(e.Snapshot(), e.Connected()) + h.statsText())
}

// metricsCommand writes every metric in Prometheus text format.
func (h *host) metricsCommand() error {
	var b strings.Builder
	if err := h.stats.Registry().WritePrometheus(&b); err != nil {
		return err
	}
	return h.nv.WriteOut(b.String())
}

func (h *host) statsText() string {
	s := h.stats
	return fmt.Sprintf("triggers: %d, mode changes: %d, resets: %d, failures: %d, mean handler time: %s\n",
		s.Triggers.Value(), s.ModeChanges.Value(), s.Resets.Value(),
		s.Failures("rejected")+s.Failures("timeout")+s.Failures("disconnected")+s.Failures("other"),
		time.Duration(s.ActionDuration.Mean()*float64(time.Second)).Round(time.Microsecond))
}

// kindName labels err for the failures counter.
func kindName(err error) string {
	switch ime.KindOf(err) {
	case ime.ErrRejected:
		return "rejected"
	case ime.ErrTimeout:
		return "timeout"
	case ime.ErrDisconnected:
		return "disconnected"
	}
	return "other"
}

// resetCommand turns sync off until the next Fcitx5Setup: it clears the
// input context, closes the session and removes the trigger mapping.
func (h *host) resetCommand() error {
	e := h.current()
	if e == nil {
		return h.notSetUp()
	}
	if e.Connected() {
		_ = e.ResetContext(h.ctx)
	}
	h.stopEngine()
	h.unmapTrigger()
	h.logger().Info("sync disabled")
	return h.nv.WriteOut("imsync: disabled, call Fcitx5Setup() to enable\n")
}

func (h *host) notSetUp() error {
	h.report(errors.New("not set up, call Fcitx5Setup() first"))
	return nil
}

// shutdown closes the engine and the log file.
func (h *host) shutdown() {
	h.cancel()
	h.stopEngine()
	_ = h.logger().Close()
}

func statusText(st ime.SyncState, connected bool) string {
	active := st.ActiveIM
	if active == "" {
		active = "(unknown)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "connected: %t\n", connected)
	fmt.Fprintf(&b, "current IM: %s (%s)\n", active, st.State())
	fmt.Fprintf(&b, "target: %s, fallback: %s\n", st.TargetIM, st.FallbackIM)
	fmt.Fprintf(&b, "mode: %s\n", st.Mode)
	return b.String()
}

// optionsArg extracts the setup dictionary from function arguments.
func optionsArg(args []interface{}) (map[string]any, error) {
	if len(args) == 0 || args[0] == nil {
		return nil, nil
	}
	switch v := args[0].(type) {
	case map[string]interface{}:
		return v, nil
	case map[interface{}]interface{}:
		out := make(map[string]any, len(v))
		for k, val := range v {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("option key %v is not a string", k)
			}
			out[key] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("setup expects a dictionary, got %T", args[0])
	}
}
