//go:build linux

// imsync-nvim is a Neovim remote plugin that keeps the fcitx5 input method
// in step with the editor mode.
//
// Installation:
//  1. Copy binary to a directory on $PATH
//  2. Generate the manifest: imsync-nvim -manifest imsync-nvim -location plugin/imsync.vim
//  3. Register the host in init.vim:
//     call remote#host#Register('imsync-nvim', 'x', function('remote#host#RegisterPlugin'))
//  4. Call Fcitx5Setup({'on_key': '<C-Space>'}) from init.vim
//
// Options passed to Fcitx5Setup override the config file at
// $XDG_CONFIG_HOME/imsync/config.toml. Logs go to
// $XDG_STATE_HOME/imsync/imsync.log.
package main

import (
	"flag"
	"os"

	"github.com/neovim/go-client/nvim/plugin"

	"imsync/internal/config"
	"imsync/internal/ime"
	"imsync/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("IMSYNC_CONFIG"), "config file (default: search $XDG_CONFIG_HOME/imsync)")

	// plugin.Main parses flags and owns stdin/stdout.
	plugin.Main(func(p *plugin.Plugin) error {
		loader := config.NewLoader(*configPath)
		cfg, loadErr := loader.Load()
		if loadErr != nil {
			cfg = config.DefaultConfig()
		}

		logger := newLogger(cfg)
		logging.SetDefault(logger)
		if loadErr != nil {
			logger.Error("config not loaded, using defaults", "path", loader.Path(), "error", loadErr)
		}

		h := newHost(p.Nvim, cfg, logger)
		loader.OnChange(h.setLogLevel)
		if err := loader.Watch(); err != nil {
			logger.Debug("config watch disabled", "error", err)
		}

		register(p, h)
		logger.Info("plugin host started", "config", loader.Path())
		return nil
	})
}

func newLogger(cfg *config.Config) *logging.Logger {
	lc, err := cfg.LoggerConfig("imsync-nvim")
	if err != nil {
		lc = logging.DefaultConfig()
		lc.Component = "imsync-nvim"
	}
	// stdout carries msgpack-rpc.
	if lc.Output == "stdout" {
		lc.Output = "file"
	}
	logger, err := logging.New(lc)
	if err != nil {
		lc.Output = "stderr"
		logger, _ = logging.New(lc)
	}
	return logger
}

func register(p *plugin.Plugin, h *host) {
	p.HandleFunction(&plugin.FunctionOptions{Name: "Fcitx5Setup"}, func(args []interface{}) error {
		opts, err := optionsArg(args)
		if err != nil {
			h.report(err)
			return nil
		}
		return h.setup(opts)
	})
	p.HandleFunction(&plugin.FunctionOptions{Name: "Fcitx5GetIM"}, func(args []interface{}) (string, error) {
		return h.activeIM(), nil
	})
	p.HandleFunction(&plugin.FunctionOptions{Name: "Fcitx5ToggleIM"}, func(args []interface{}) (string, error) {
		h.toggle()
		return "", nil
	})

	for _, ac := range autocmds(h) {
		p.HandleAutocmd(&plugin.AutocmdOptions{Event: ac.event, Pattern: "*", Sync: ac.sync}, ac.fn)
	}

	p.HandleCommand(&plugin.CommandOptions{Name: "Fcitx5Toggle"}, h.toggleCommand)
	p.HandleCommand(&plugin.CommandOptions{Name: "Fcitx5Activate"}, h.activateCommand)
	p.HandleCommand(&plugin.CommandOptions{Name: "Fcitx5Deactivate"}, h.deactivateCommand)
	p.HandleCommand(&plugin.CommandOptions{Name: "Fcitx5Reconnect"}, h.reconnectCommand)
	p.HandleCommand(&plugin.CommandOptions{Name: "Fcitx5Status"}, h.statusCommand)
	p.HandleCommand(&plugin.CommandOptions{Name: "Fcitx5Metrics"}, h.metricsCommand)
	p.HandleCommand(&plugin.CommandOptions{Name: "Fcitx5Reset"}, h.resetCommand)
}

type autocmd struct {
	event string
	// sync makes Neovim wait for the handler before processing more input.
	// Mode events need it to stay ordered with Fcitx5ToggleIM, a request
	// that go-client runs on its own goroutine.
	sync bool
	fn   func()
}

func autocmds(h *host) []autocmd {
	return []autocmd{
		{"InsertEnter", true, func() { h.modeChanged(ime.ModeInsert) }},
		{"InsertLeave", true, func() { h.modeChanged(ime.ModeOther) }},
		{"WinLeave", false, h.leave},
		{"BufLeave", false, h.leave},
		{"VimLeavePre", true, h.shutdown},
	}
}
