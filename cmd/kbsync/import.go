package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/poiesic/kbsync"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/monitor"
	"github.com/poiesic/kbsync/pipeline"
	"github.com/urfave/cli/v2"
)

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import workbooks, CSV files, or CSV directories",
		ArgsUsage: "FILES...",
		Action:    importAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "domain",
				Usage: "Domain of every source (inferred from file names when empty)",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Entity kind of every sheet, for single-table CSV files",
			},
			&cli.BoolFlag{
				Name:  "full-resync",
				Usage: "Delete stored records the sources no longer contain",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write the JSON run report to this file (- for stdout)",
			},
			&cli.BoolFlag{
				Name:  "no-reconcile",
				Usage: "Skip the reconcile pass over scopes left with pending repairs",
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N records (0 disables)",
				Value: 100,
			},
		},
	}
}

func importAction(c *cli.Context) error {
	ctx := c.Context
	if c.NArg() == 0 {
		return fmt.Errorf("at least one source file is required")
	}
	sources, err := parseSources(c.Args().Slice(), c.String("domain"), c.String("kind"))
	if err != nil {
		return err
	}

	var opts []kbsync.Option
	var progress *monitor.ProgressTracker
	if every := c.Int("report-interval"); every > 0 {
		progress = monitor.NewProgressTracker(os.Stderr, "import", every)
		opts = append(opts, kbsync.WithProgress(progress))
	}
	sys, err := openSystem(ctx, c, opts...)
	if err != nil {
		return err
	}
	defer sys.Close()

	var rep *monitor.RunReport
	if c.Bool("full-resync") {
		rep, err = sys.Pipeline().FullResync(ctx, sources...)
	} else {
		rep, err = sys.Pipeline().Run(ctx, sources...)
	}
	if progress != nil {
		progress.Finish()
	}
	if rep == nil {
		return err
	}

	if err == nil && !c.Bool("no-reconcile") {
		if scopes := reconcileScopes(rep); len(scopes) > 0 {
			reps, rerr := sys.Reconciler().ReconcileAll(ctx, scopes)
			rep.Reconciles = append(rep.Reconciles, reps...)
			if rerr != nil {
				fmt.Fprintln(os.Stderr, warningStyle.Render("reconcile: "+rerr.Error()))
			}
		}
	}

	if werr := writeReport(c.App.Writer, c.String("report"), rep); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	if !rep.Succeeded() {
		return cli.Exit(errorStyle.Render("import finished with failures"), 1)
	}
	return nil
}

func parseSources(paths []string, domain, kind string) ([]pipeline.Source, error) {
	var d core.Domain
	if domain != "" {
		var err error
		if d, err = core.ParseDomain(domain); err != nil {
			return nil, err
		}
	}
	var k core.Kind
	if kind != "" {
		var err error
		if k, err = core.ParseKind(kind); err != nil {
			return nil, err
		}
	}
	sources := make([]pipeline.Source, len(paths))
	for i, p := range paths {
		sources[i] = pipeline.Source{Path: p, Domain: d, Kind: k}
	}
	return sources, nil
}

// reconcileScopes lists the scopes to reconcile right after an import:
// those with pending repairs and those a full resync pruned.
func reconcileScopes(rep *monitor.RunReport) []core.Scope {
	scopes := rep.PendingScopes()
	var domains []core.Domain
	for _, s := range rep.Sources {
		if !s.Failed() && s.Domain != "" && !slices.Contains(domains, s.Domain) {
			domains = append(domains, s.Domain)
		}
	}
	for _, kind := range rep.Kinds() {
		if rep.Entities[kind].Pruned == 0 {
			continue
		}
		for _, d := range domains {
			scope := core.Scope{Domain: d, Kind: kind}
			if !slices.Contains(scopes, scope) {
				scopes = append(scopes, scope)
			}
		}
	}
	return scopes
}

func writeReport(stdout io.Writer, path string, rep *monitor.RunReport) error {
	fmt.Fprintln(stdout, titleStyle.Render("Import "+rep.RunID))
	if err := rep.WriteText(stdout); err != nil {
		return err
	}
	status := successStyle.Render("ok")
	if !rep.Succeeded() {
		status = errorStyle.Render("failures")
	}
	fmt.Fprintf(stdout, "%s %s\n", labelStyle.Render("status:"), status)

	switch strings.TrimSpace(path) {
	case "":
		return nil
	case "-":
		return rep.WriteJSON(stdout)
	default:
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}
		defer f.Close()
		return rep.WriteJSON(f)
	}
}
