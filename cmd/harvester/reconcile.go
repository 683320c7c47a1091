package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/riskibarqy/statharvest/internal/app"
	"github.com/riskibarqy/statharvest/internal/config"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/riskibarqy/statharvest/internal/usecase"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	var (
		fetch   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation cycle and print the gaps it found",
		Long: `reconcile diffs the expected inventory against the blob store once and
prints every gap. With --fetch the enqueued tasks are fetched before the
command exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Reconcile.LoopEnabled = false

			logger := logging.NewJSONTo(os.Stderr, cfg.LogLevel)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if fetch {
				a.Orchestrator.Start(false)
			}
			report, err := a.Orchestrator.RunReconciliationCycle(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			renderReport(cmd.OutOrStdout(), report)

			if fetch {
				waitIdle(ctx, a.Orchestrator)
				if err := a.Orchestrator.Shutdown(ctx); err != nil {
					return err
				}
				renderStats(cmd.OutOrStdout(), a.Orchestrator.Stats())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "fetch the enqueued tasks before exiting")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline")
	return cmd
}

func renderReport(w io.Writer, report usecase.CycleReport) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("cycle %s: expected %d, observed %d", report.CycleID, report.Expected, report.Observed))
	tw.AppendHeader(table.Row{"Source", "Resource", "Reason", "Enqueued"})

	enqueued := make(map[string]bool, len(report.Enqueued))
	for _, task := range report.Enqueued {
		enqueued[task.Key()] = true
	}
	for _, gap := range report.Gaps {
		tw.AppendRow(table.Row{gap.Key.SourceID, gap.Key.ResourceKey, gap.Reason, enqueued[ingest.TaskKey(gap.Key.SourceID, gap.Key.ResourceKey)]})
	}
	tw.AppendFooter(table.Row{"", "", "gaps", len(report.Gaps)})
	tw.Render()
}

func renderStats(w io.Writer, stats []usecase.SourceStats) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Source", "Attempted", "Succeeded", "Failed", "Success rate", "Circuit", "Dead letters"})
	for _, s := range stats {
		tw.AppendRow(table.Row{s.SourceID, s.Attempted, s.Succeeded, s.Failed, fmt.Sprintf("%.2f", s.SuccessRate), s.CircuitState, s.DeadLetters})
	}
	tw.Render()
}

// waitIdle polls until no task is queued or in flight.
func waitIdle(ctx context.Context, o *usecase.Orchestrator) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		busy := len(o.PendingTasks()) > 0
		for _, s := range o.Stats() {
			if s.InFlight > 0 {
				busy = true
			}
		}
		if !busy {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
