package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/pagebaker/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	NoWatch bool `name:"no-watch" help:"Do not reload the configuration file on change"`
}

func (d *DaemonCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := daemon.Options{LogLevel: logLevel}
	if !d.NoWatch {
		opts.ConfigPath = root.Config
	}
	dm, err := daemon.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	slog.Info("Starting daemon", "listen", cfg.Daemon.Listen, "queue_mode", string(cfg.Queue.Mode))
	return dm.Run(ctx)
}
