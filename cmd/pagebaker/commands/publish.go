package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	"git.home.luguber.info/inful/pagebaker/internal/events"
	"git.home.luguber.info/inful/pagebaker/internal/store"
)

// PublishCmd implements the 'publish' command.
type PublishCmd struct {
	Type     string `arg:"" help:"Page type"`
	ID       int64  `arg:"" help:"Page id"`
	Slug     string `help:"New URL slug"`
	Title    string `help:"New title"`
	BodyFile string `name:"body-file" help:"Markdown body file, or - for stdin"`
}

func (c *PublishCmd) Run(g *Global, root *CLI) error {
	body, err := readBody(c.BodyFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := root.pipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	key := content.Key{Type: c.Type, ID: c.ID}
	if _, err := p.Store.Load(ctx, key); err != nil {
		return err
	}
	page, err := p.Store.Publish(ctx, c.ID, store.Draft{Slug: c.Slug, Title: c.Title, Body: body})
	if err != nil {
		return err
	}
	if err := p.Bus.Publish(ctx, events.PagePublished{Key: key, PublishedAt: time.Now()}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.Out, "Published %s at %s\n", key, page.URLPath())
	return nil
}

// UnpublishCmd implements the 'unpublish' command.
type UnpublishCmd struct {
	Type string `arg:"" help:"Page type"`
	ID   int64  `arg:"" help:"Page id"`
}

func (c *UnpublishCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	p, err := root.pipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	key := content.Key{Type: c.Type, ID: c.ID}
	if _, err := p.Store.Load(ctx, key); err != nil {
		return err
	}
	if _, err := p.Store.Unpublish(ctx, c.ID); err != nil {
		return err
	}
	if err := p.Bus.Publish(ctx, events.PageUnpublished{Key: key, UnpublishedAt: time.Now()}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.Out, "Unpublished %s\n", key)
	return nil
}
