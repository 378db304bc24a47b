package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httphandler "github.com/ericfisherdev/qabot/internal/adapter/driving/http"
	"github.com/ericfisherdev/qabot/internal/application"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a single pass over pending requests and fixed targets",
		Long: `Run a single pass and exit, printing the verdicts reached.

Requests still waiting for results are left alone; run the command again
(e.g. from cron) to pick them up later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.force, true)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					slog.Error("error closing database", "error", closeErr)
				}
			}()

			summary, err := a.orchestrator.RunPass(cmd.Context())
			renderPass(cmd.OutOrStdout(), summary)
			return err
		},
	}
}

// errForceServe rejects --force for the scheduled loop, where every pass
// would restart testing of every started request.
var errForceServe = errors.New("--force re-checks requests on every pass; use it with \"qabot run\" only")

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run passes on a schedule and serve the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.force {
				return errForceServe
			}
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg

	a, err := newApp(ctx, cfg, opts.force, true)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	scheduler := application.NewScheduler(a.orchestrator, cfg.Interval)
	health := application.NewHealthService(scheduler, cfg.StaleAfter)
	handler := httphandler.NewHandler(health, scheduler, a.verdicts, a.builds, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(handler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// A manual pass answers only once it has finished.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler.Start(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	slog.Info("qabot started",
		"listen_addr", cfg.ListenAddr,
		"interval", cfg.Interval,
		"backend", cfg.Backend,
		"openqa", cfg.OpenQAURL,
	)

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

func newTargetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List fixed targets and the build currently tested for each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, false, false)
			if err != nil {
				return err
			}

			var rows []targetRow
			for _, target := range a.orchestrator.Targets() {
				row := targetRow{Project: target.Project, Test: target.Test, Repos: len(target.Repos)}
				row.Build, err = a.orchestrator.CurrentBuild(cmd.Context(), target)
				if err != nil {
					slog.Warn("failed to read current build", "target", target.Project, "error", err)
					row.Build = "error"
				}
				rows = append(rows, row)
			}

			renderTargets(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

type targetRow struct {
	Project string
	Test    string
	Repos   int
	Build   string
}

func renderTargets(w io.Writer, rows []targetRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Target", "Test", "Repos", "Build"})
	for _, r := range rows {
		build := r.Build
		if build == "" {
			build = "-"
		}
		t.AppendRow(table.Row{r.Project, r.Test, r.Repos, build})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}

func renderPass(w io.Writer, s application.PassSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Request", "State", "Status", "Jobs"})
	for _, v := range s.Verdicts {
		t.AppendRow(table.Row{v.RequestID, v.State, v.Status, v.Jobs})
	}
	for _, tg := range s.Targets {
		state := "advanced"
		switch {
		case tg.Err != "":
			state = "error"
		case tg.Held:
			state = "held"
		}
		t.AppendRow(table.Row{tg.Project, state, tg.Build, "-"})
	}
	t.AppendFooter(table.Row{"pass " + s.ID, fmt.Sprintf("%d requests", s.Requests), fmt.Sprintf("%d awaiting", s.Awaiting()), fmt.Sprintf("%d errors", len(s.Errors))})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}
