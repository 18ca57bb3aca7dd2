package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kubewarden/posture-scanner/internal/aggregator"
	"github.com/kubewarden/posture-scanner/internal/catalogue"
	"github.com/kubewarden/posture-scanner/internal/scan"
)

const (
	defaultScanInterval  = 24 * time.Hour
	defaultParallelScans = 1
)

func newDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Scans a set of tenants periodically",
		Long: `Scans every tenant against a benchmark, then again after each interval, until interrupted.
The catalogue is reloaded when its manifests or scripts change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenants, err := cmd.Flags().GetStringSlice("tenants")
			if err != nil {
				return fmt.Errorf("failed to get tenants flag: %w", err)
			}
			interval, err := cmd.Flags().GetDuration("interval")
			if err != nil {
				return fmt.Errorf("failed to get interval flag: %w", err)
			}
			if interval <= 0 {
				return fmt.Errorf("invalid interval %s: must be positive", interval)
			}
			parallelScans, err := cmd.Flags().GetInt("parallel-scans")
			if err != nil {
				return fmt.Errorf("failed to get parallel-scans flag: %w", err)
			}
			if parallelScans < 1 {
				return fmt.Errorf("invalid parallel-scans %d: must be at least 1", parallelScans)
			}
			watch, err := cmd.Flags().GetBool("watch")
			if err != nil {
				return fmt.Errorf("failed to get watch flag: %w", err)
			}
			req, err := loadRequestTemplate(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadEngineConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := newEngine(ctx, cmd, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := e.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Error("failed to shut down", slog.String("error", err.Error()))
				}
			}()

			d := &daemon{
				engine:        e,
				tenants:       tenants,
				request:       req,
				interval:      interval,
				parallelScans: parallelScans,
				logger:        logger.With("component", "daemon"),
			}
			if watch {
				d.watcher = catalogue.NewWatcher(cfg.catalogueDir, e.catalogue, logger)
			}
			return d.run(ctx)
		},
	}

	daemonCmd.Flags().StringSlice("tenants", nil, "comma separated list of tenant ids to scan. This flag can be repeated (required)")
	_ = daemonCmd.MarkFlagRequired("tenants")
	daemonCmd.Flags().Duration("interval", defaultScanInterval, "time between two scans of a tenant")
	daemonCmd.Flags().Int("parallel-scans", defaultParallelScans, "number of tenants scanned in parallel")
	daemonCmd.Flags().Bool("watch", true, "reload the catalogue when its directory changes")
	addRequestFlags(daemonCmd)
	addEngineFlags(daemonCmd)

	return daemonCmd
}

type daemon struct {
	engine        *engine
	watcher       *catalogue.Watcher
	tenants       []string
	request       scan.Request
	interval      time.Duration
	parallelScans int
	logger        *slog.Logger
}

// run scans the tenants every interval until ctx is done.
func (d *daemon) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if d.watcher != nil {
		g.Go(func() error {
			return d.watcher.Run(ctx)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			d.scanTenants(ctx)
			d.reportRound(ctx)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// scanTenants runs one round of scans. Scan failures are logged, they never
// stop the daemon.
func (d *daemon) scanTenants(ctx context.Context) {
	d.logger.InfoContext(ctx, "starting scan round", slog.Int("tenants", len(d.tenants)))

	g := errgroup.Group{}
	g.SetLimit(d.parallelScans)
	for _, tenant := range d.tenants {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			req := d.request
			req.TenantID = tenant
			d.scanTenant(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *daemon) scanTenant(ctx context.Context, req scan.Request) {
	h, err := d.engine.runtime.Start(ctx, req)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to start scan",
			slog.String("tenant", req.TenantID),
			slog.String("error", err.Error()))
		return
	}
	// The scan reacts to ctx itself, waiting past it lets the grace period run.
	record, err := h.Wait(context.WithoutCancel(ctx))
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to store scan",
			slog.String("scan", h.ID()),
			slog.String("tenant", req.TenantID),
			slog.String("error", err.Error()))
	}
	if record != nil && record.State != scan.StateCompleted {
		d.logger.WarnContext(ctx, "scan did not complete",
			slog.String("scan", record.ID),
			slog.String("tenant", req.TenantID),
			slog.String("state", string(record.State)),
			slog.String("reason", record.FailureReason))
	}
}

// roundReport sums up the scans of a round.
type roundReport struct {
	states  map[scan.State]int
	summary aggregator.Summary
}

// reportRound logs the outcome of the terminal scans held by the registry,
// then forgets them.
func (d *daemon) reportRound(ctx context.Context) roundReport {
	report := roundReport{states: make(map[scan.State]int)}
	for _, s := range d.engine.registry.List() {
		if !s.State.Terminal() {
			continue
		}
		report.states[s.State]++
		report.summary.Passed += s.Summary.Passed
		report.summary.Failed += s.Summary.Failed
		report.summary.Errored += s.Summary.Errored
		report.summary.Total += s.Summary.Total
		if err := d.engine.registry.Remove(s.ID); err != nil {
			d.logger.DebugContext(ctx, "failed to forget scan", slog.String("scan", s.ID), slog.String("error", err.Error()))
		}
	}
	report.summary.Compliance = aggregator.Compliance(report.summary.Passed, report.summary.Failed)

	d.logger.InfoContext(ctx, "scan round finished",
		slog.Int("completed", report.states[scan.StateCompleted]),
		slog.Int("failed", report.states[scan.StateFailed]),
		slog.Int("cancelled", report.states[scan.StateCancelled]),
		slog.Int("checks-passed", report.summary.Passed),
		slog.Int("checks-failed", report.summary.Failed),
		slog.Int("checks-errored", report.summary.Errored),
		slog.Float64("compliance", report.summary.Compliance))
	return report
}
