package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/pagebaker/internal/config"
	"git.home.luguber.info/inful/pagebaker/internal/store"
)

// PageCmd groups page store commands.
type PageCmd struct {
	Root   PageRootCmd   `cmd:"" help:"Create the root page"`
	Create PageCreateCmd `cmd:"" help:"Create a draft page"`
}

// PageRootCmd implements 'page root'.
type PageRootCmd struct {
	Type  string `required:"" help:"Page type of the root"`
	Title string `default:"Home" help:"Root page title"`
}

func (c *PageRootCmd) Run(g *Global, root *CLI) error {
	return withStore(root, func(ctx context.Context, st *store.Store) error {
		p, err := st.CreateRoot(ctx, c.Type, c.Title)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(g.Out, "Created root %s\n", p.Key())
		return nil
	})
}

// PageCreateCmd implements 'page create'.
type PageCreateCmd struct {
	Type     string `required:"" help:"Page type"`
	Parent   int64  `required:"" help:"Parent page id"`
	Slug     string `help:"URL slug (default: derived from the title)"`
	Title    string `help:"Page title"`
	BodyFile string `name:"body-file" help:"Markdown body file, or - for stdin"`
}

func (c *PageCreateCmd) Run(g *Global, root *CLI) error {
	body, err := readBody(c.BodyFile)
	if err != nil {
		return err
	}
	return withStore(root, func(ctx context.Context, st *store.Store) error {
		p, err := st.CreatePage(ctx, store.NewPage{
			Type:     c.Type,
			ParentID: c.Parent,
			Slug:     c.Slug,
			Title:    c.Title,
			Body:     body,
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(g.Out, "Created draft %s at %s\n", p.Key(), p.URLPath())
		return nil
	})
}

// withStore opens only the page store; page edits do not bake.
func withStore(root *CLI, fn func(ctx context.Context, st *store.Store) error) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	return openStore(cfg, fn)
}

func openStore(cfg *config.Config, fn func(ctx context.Context, st *store.Store) error) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(context.Background(), st)
}
