package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/reconcile"
	"github.com/urfave/cli/v2"
)

func scopeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "domain",
			Usage: "Limit to one domain",
		},
		&cli.StringFlag{
			Name:  "kind",
			Usage: "Limit to one entity kind",
		},
	}
}

// selectScopes narrows all to the --domain and --kind flags.
func selectScopes(c *cli.Context, all []core.Scope) ([]core.Scope, error) {
	var domain core.Domain
	if v := c.String("domain"); v != "" {
		d, err := core.ParseDomain(v)
		if err != nil {
			return nil, err
		}
		domain = d
	}
	var kind core.Kind
	if v := c.String("kind"); v != "" {
		k, err := core.ParseKind(v)
		if err != nil {
			return nil, err
		}
		kind = k
	}
	var out []core.Scope
	for _, s := range all {
		if (domain == "" || s.Domain == domain) && (kind == "" || s.Kind == kind) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no scope matches domain %q and kind %q", domain, kind)
	}
	return out, nil
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:   "reconcile",
		Usage:  "Diff the document store against the vector index and repair drift",
		Flags:  scopeFlags(),
		Action: reconcileAction,
	}
}

func reconcileAction(c *cli.Context) error {
	ctx := c.Context
	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	scopes, err := selectScopes(c, sys.Reconciler().Scopes())
	if err != nil {
		return err
	}
	reps, err := sys.Reconciler().ReconcileAll(ctx, scopes)
	printReconcileReports(c.App.Writer, reps)
	if err != nil {
		return err
	}
	for _, rep := range reps {
		if rep != nil && !rep.Converged() {
			return cli.Exit(warningStyle.Render("some drift was not repaired"), 1)
		}
	}
	return nil
}

func printReconcileReports(out io.Writer, reps []*reconcile.Report) {
	fmt.Fprintln(out, titleStyle.Render("Reconcile"))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tDOCS\tPOINTS\tMISSING\tSTALE\tORPHANED\tREPAIRED\tDELETED\tFAILED\tDEFERRED\tQUARANTINED")
	for _, r := range reps {
		if r == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Scope, r.Documents, r.Points, r.Missing, r.Stale, r.Orphaned,
			r.Repaired, r.Deleted, r.Failed, r.Deferred, r.Quarantined)
	}
	w.Flush()
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Reconcile on an interval and on document changes until interrupted",
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	cfg := sys.Config().Reconcile
	fmt.Fprintln(c.App.Writer, mutedStyle.Render(fmt.Sprintf("watching %d scopes every %s (ctrl-c to stop)",
		len(sys.Reconciler().Scopes()), cfg.Interval)))
	if err := sys.Reconciler().Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func pendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "List repairs the reconciler still owes",
		Flags: append(scopeFlags(),
			&cli.BoolFlag{
				Name:  "requeue",
				Usage: "Give quarantined items a fresh set of attempts",
			},
		),
		Action: pendingAction,
	}
}

func pendingAction(c *cli.Context) error {
	ctx := c.Context
	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	scopes, err := selectScopes(c, core.EmbeddableScopes())
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintln(out, titleStyle.Render("Pending repairs"))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOP\tATTEMPTS\tNEXT\tSTATE\tREASON")
	var dead []core.DocID
	total := 0
	for _, scope := range scopes {
		items, err := sys.Pending().ListPending(ctx, scope)
		if err != nil {
			return err
		}
		for _, it := range items {
			state := "waiting"
			if it.Dead {
				state = "quarantined"
				dead = append(dead, it.ID)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				it.ID, it.Op, it.Attempts, it.NextAttempt.Format("2006-01-02 15:04:05"), state, it.Reason)
			total++
		}
	}
	w.Flush()
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%d pending, %d quarantined", total, len(dead))))

	if !c.Bool("requeue") || len(dead) == 0 {
		return nil
	}
	n, err := sys.Reconciler().Requeue(ctx, dead...)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("requeued %d items; the next reconcile pass retries them", n)))
	return nil
}
