package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/atlas-foundry/xpatch-go/profile"
	"github.com/atlas-foundry/xpatch-go/report"
	"github.com/atlas-foundry/xpatch-go/session"
)

type profileFlags struct {
	samples   int
	budget    time.Duration
	fixed     bool
	noHistory bool
	format    string
}

func newProfileCmd(a *app) *cobra.Command {
	var f profileFlags
	cmd := &cobra.Command{
		Use:   "profile <xpath>",
		Short: "Time a query over repeated runs",
		Long: `Runs the query against fresh copies of the merged definitions and reports the
average time per run. Sampling stops early when the time budget is spent or, in
adaptive mode, when runs are too slow to finish in reasonable time.

Finished runs are recorded in the profile history database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSession(cmd.Context(), !f.noHistory)
			if err != nil {
				return err
			}
			opts, err := a.cfg.ProfileOptions()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("samples") {
				opts.SampleSize = f.samples
			}
			if cmd.Flags().Changed("budget") {
				opts.TimeBudget = f.budget
			}
			if f.fixed {
				opts.Adaptive = false
			}
			res, err := runProfile(cmd.Context(), s, args[0], opts)
			if err != nil {
				return err
			}
			return writeProfile(cmd.OutOrStdout(), res, f.format)
		},
	}
	cmd.Flags().IntVarP(&f.samples, "samples", "n", 100, "Number of runs")
	cmd.Flags().DurationVar(&f.budget, "budget", 5*time.Second, "Stop sampling after this long")
	cmd.Flags().BoolVar(&f.fixed, "fixed", false, "Disable the adaptive per-run ceiling")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "Do not record the run")
	cmd.Flags().StringVarP(&f.format, "format", "f", formatText, "Output format: text, markdown, org")
	cmd.AddCommand(newProfileHistoryCmd(a), newProfileSamplesCmd(a))
	return cmd
}

// runProfile profiles q through the session and waits for the run to finish.
func runProfile(ctx context.Context, s *session.Session, q string, opts profile.Options) (profile.Result, error) {
	var (
		res    profile.Result
		runErr error
	)
	if _, err := s.ProfileAsync(ctx, q, opts,
		func(r profile.Result) { res = r },
		func(err error) { runErr = err },
	); err != nil {
		return profile.Result{}, err
	}
	if err := s.Wait(ctx); err != nil {
		s.CancelProfile()
		return profile.Result{}, err
	}
	return res, runErr
}

func writeProfile(w io.Writer, res profile.Result, format string) error {
	if format == formatText || format == "" {
		_, err := io.WriteString(w, res.Report())
		return err
	}
	return writeReport(w, report.Profile(res), format)
}

func writeReport(w io.Writer, r *report.Report, format string) error {
	f, err := report.ParseFormat(format)
	if err != nil {
		return err
	}
	out, err := r.Render(f)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func newProfileHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "history [xpath]",
		Short: "List recorded profile runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("profile history is disabled: set profile.history_db")
			}
			var query string
			if len(args) == 1 {
				query = args[0]
			}
			runs, err := store.Recent(cmd.Context(), query, limit)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report.History(runs), format)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")
	cmd.Flags().StringVarP(&format, "format", "f", formatMarkdown, "Output format: markdown, org")
	return cmd
}

func newProfileSamplesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "samples <run-id>",
		Short: "Print the per-run timings of a recorded profile, one tick count per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("profile history is disabled: set profile.history_db")
			}
			return store.WriteSamples(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}
