package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kubewarden/posture-scanner/internal/catalogue"
	"github.com/kubewarden/posture-scanner/internal/scan"
)

func newScanCommand() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scans a tenant against a benchmark",
		Long: `Runs the checks of a benchmark against a tenant and waits for the scan to finish.
The command fails when the scan does not complete.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, err := cmd.Flags().GetString("tenant")
			if err != nil {
				return fmt.Errorf("failed to get tenant flag: %w", err)
			}
			req, err := loadRequestTemplate(cmd)
			if err != nil {
				return err
			}
			req.TenantID = tenant

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

			record, err := e.runtime.Run(ctx, req)
			if record == nil {
				return fmt.Errorf("failed to start scan: %w", err)
			}
			if err != nil {
				return fmt.Errorf("failed to store scan %s: %w", record.ID, err)
			}
			return scanOutcome(record)
		},
	}

	scanCmd.Flags().StringP("tenant", "t", "", "id of the tenant to scan (required)")
	_ = scanCmd.MarkFlagRequired("tenant")
	addRequestFlags(scanCmd)
	addEngineFlags(scanCmd)

	return scanCmd
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("benchmark", "b", "", "benchmark to run, as 'id' or 'id@version'. The highest version is used when not pinned (required)")
	_ = cmd.MarkFlagRequired("benchmark")
	cmd.Flags().String("level", "", "only run the checks of this level, e.g. L1")
	cmd.Flags().String("selector", "", `CEL expression selecting the checks to run, e.g. '"mail-admin" in modules'`)
}

// loadRequestTemplate reads the request flags, leaving the tenant unset.
func loadRequestTemplate(cmd *cobra.Command) (scan.Request, error) {
	benchmark, err := cmd.Flags().GetString("benchmark")
	if err != nil {
		return scan.Request{}, fmt.Errorf("failed to get benchmark flag: %w", err)
	}
	level, err := cmd.Flags().GetString("level")
	if err != nil {
		return scan.Request{}, fmt.Errorf("failed to get level flag: %w", err)
	}
	selector, err := cmd.Flags().GetString("selector")
	if err != nil {
		return scan.Request{}, fmt.Errorf("failed to get selector flag: %w", err)
	}
	ref, err := catalogue.ParseRef(benchmark)
	if err != nil {
		return scan.Request{}, err
	}
	return scan.Request{Benchmark: ref, Level: level, Selector: selector}, nil
}

func scanOutcome(record *scan.Scan) error {
	if record.State == scan.StateCompleted {
		return nil
	}
	if record.FailureReason == "" {
		return fmt.Errorf("scan %s %s", record.ID, strings.ToLower(string(record.State)))
	}
	return fmt.Errorf("scan %s %s: %s", record.ID, strings.ToLower(string(record.State)), record.FailureReason)
}
