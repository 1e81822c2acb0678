package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Views []string `arg:"" optional:"" help:"Page types to build"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	p, err := root.pipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	report, err := p.Baker.Build(ctx, bake.TriggerBuild, b.Views)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.Out, "Built %d of %d pages (%s) into %s in %s [run %s]\n",
		report.Built, report.Pages, strings.Join(report.Views, ", "),
		p.Writer.Root(), report.Duration.Round(time.Millisecond), report.RunID)
	return nil
}
