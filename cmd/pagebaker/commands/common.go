// Package commands implements the pagebaker CLI.
package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/pagebaker/internal/config"
	"git.home.luguber.info/inful/pagebaker/internal/daemon"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/observability"
)

// logLevel is shared with the daemon so config reloads can change it.
var logLevel = new(slog.LevelVar)

// Global context passed to subcommands.
type Global struct {
	Out io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"pagebaker.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Init      InitCmd      `cmd:"" help:"Write an example configuration file"`
	Build     BuildCmd     `cmd:"" help:"Bake every live page of the given views (default: all configured views)"`
	Daemon    DaemonCmd    `cmd:"" help:"Run the hook API, queue workers and scheduled rebuilds"`
	Page      PageCmd      `cmd:"" help:"Manage pages in the store"`
	Publish   PublishCmd   `cmd:"" help:"Publish a page and bake it with its live ancestors"`
	Unpublish UnpublishCmd `cmd:"" help:"Unpublish a page, remove its output and rebake its ancestors"`
	Show      VersionCmd   `cmd:"" name:"version" help:"Print version information"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	if c.Verbose {
		logLevel.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(observability.NewContextHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))))
	return nil
}

// loadConfig loads the configuration and applies its logging section unless
// -v already forced debug output.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if !c.Verbose {
		logLevel.Set(cfg.Monitoring.Logging.Level.SlogLevel())
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Monitoring.Logging.Format == config.LogFormatJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(observability.NewContextHandler(h)))
	return cfg, nil
}

// pipeline loads the configuration and opens the baking stack. Events are
// always baked synchronously from the CLI.
func (c *CLI) pipeline(ctx context.Context) (*daemon.Pipeline, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewPipeline(ctx, cfg, nil)
}

// readBody returns the contents of path, stdin for "-", or "" when path is empty.
func readBody(path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", ferrors.FileSystemError("read body from stdin").WithCause(err).Build()
		}
		return string(data), nil
	default:
		// #nosec G304 -- body file is chosen by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return "", ferrors.FileSystemError("read body file").WithCause(err).WithContext("path", path).Build()
		}
		return string(data), nil
	}
}
