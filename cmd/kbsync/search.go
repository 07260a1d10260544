package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
	"github.com/urfave/cli/v2"
)

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Find knowledge base entries similar to a query",
		ArgsUsage: "QUERY",
		Flags: append(scopeFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of hits",
				Value: 5,
			},
			&cli.Float64Flag{
				Name:  "min-score",
				Usage: "Similarity floor (0 uses the searcher default)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print hits as JSON",
			},
		),
		Action: searchAction,
	}
}

func searchAction(c *cli.Context) error {
	ctx := c.Context
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("a query is required")
	}

	filter := storage.QueryFilter{MinScore: float32(c.Float64("min-score"))}
	if v := c.String("domain"); v != "" {
		d, err := core.ParseDomain(v)
		if err != nil {
			return err
		}
		filter.Domain = d
	}
	if v := c.String("kind"); v != "" {
		k, err := core.ParseKind(v)
		if err != nil {
			return err
		}
		filter.Kinds = []core.Kind{k}
	}

	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	hits, err := sys.Searcher().FindSimilar(ctx, query, filter, c.Int("limit"))
	if err != nil {
		return err
	}

	out := c.App.Writer
	if c.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}
	fmt.Fprintf(out, "%s\n", titleStyle.Render(fmt.Sprintf("Found %d hits", len(hits))))
	for i, hit := range hits {
		marker := ""
		if hit.Verbatim {
			marker = successStyle.Render(" exact")
		}
		fmt.Fprintf(out, "%d. %s %s%s\n   %s\n",
			i+1, labelStyle.Render(hit.Label()), mutedStyle.Render(fmt.Sprintf("[%0.3f]", hit.Score)), marker,
			core.EmbeddingText(hit.Document.Record))
	}
	return nil
}
