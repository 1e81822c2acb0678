package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/pagebaker/cmd/pagebaker/commands"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/version"
)

func main() {
	var cli commands.CLI
	global := &commands.Global{Out: os.Stdout}

	ctx := kong.Parse(&cli,
		kong.Name("pagebaker"),
		kong.Description("Bake published CMS pages to static files."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	if err := ctx.Run(global, &cli); err != nil {
		os.Exit(ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).Report(os.Stderr, err))
	}
}
