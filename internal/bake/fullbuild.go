package bake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/logfields"
)

// Report summarises a full build.
type Report struct {
	RunID    string        `json:"run_id"`
	Trigger  Trigger       `json:"trigger"`
	Views    []string      `json:"views"`
	Pages    int           `json:"pages"`
	Built    int           `json:"built"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
}

// FullBuild builds every live page of the given view types in run. Each view's
// gate records are reset first. Pages whose type is not bound as buildable are
// counted as skipped.
func FullBuild(ctx context.Context, run *Run, loader Loader, binder *Binder, views []string) (*Report, error) {
	report := &Report{RunID: run.ID, Trigger: run.Trigger, Views: views}
	start := time.Now()
	defer func() { report.Duration = time.Since(start) }()

	for _, view := range views {
		run.Gate.Reset(view)
	}
	for _, view := range views {
		nodes, err := loader.ListLive(ctx, view)
		if err != nil {
			return report, fmt.Errorf("list %s: %w", view, err)
		}
		slog.InfoContext(ctx, "Building view",
			logfields.RunID(run.ID), logfields.View(view), slog.Int("pages", len(nodes)))
		for _, node := range nodes {
			report.Pages++
			b, ok := binder.Bind(node).(Buildable)
			if !ok {
				report.Skipped++
				continue
			}
			before := run.Gate.Len()
			if err := b.Build(ctx, run); err != nil {
				return report, err
			}
			if run.Gate.Len() > before {
				report.Built++
			} else {
				report.Skipped++
			}
		}
	}
	return report, nil
}
