package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kubewarden/posture-scanner/internal/catalogue"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func newBenchmarksCommand() *cobra.Command {
	benchmarksCmd := &cobra.Command{
		Use:   "benchmarks",
		Short: "Inspects the benchmark catalogue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists the benchmarks of the catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, output, err := loadCatalogue(cmd)
			if err != nil {
				return err
			}
			return printBenchmarks(cmd, cat.Benchmarks(), output)
		},
	}

	checksCmd := &cobra.Command{
		Use:   "checks BENCHMARK",
		Short: "Lists the checks a scan of the benchmark would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := cmd.Flags().GetString("level")
			if err != nil {
				return fmt.Errorf("failed to get level flag: %w", err)
			}
			expression, err := cmd.Flags().GetString("selector")
			if err != nil {
				return fmt.Errorf("failed to get selector flag: %w", err)
			}
			ref, err := catalogue.ParseRef(args[0])
			if err != nil {
				return err
			}
			cat, output, err := loadCatalogue(cmd)
			if err != nil {
				return err
			}

			checks, err := cat.ListChecks(ref, catalogue.Filter{Level: level, Selector: expression})
			if err != nil {
				return err
			}
			return printChecks(cmd, checks, output)
		},
	}
	checksCmd.Flags().String("level", "", "only list the checks of this level, e.g. L1")
	checksCmd.Flags().String("selector", "", "CEL expression selecting the checks")

	benchmarksCmd.PersistentFlags().String("output", outputTable, fmt.Sprintf("output format. Supported values are '%s' and '%s'", outputTable, outputJSON))
	benchmarksCmd.AddCommand(listCmd, checksCmd)

	return benchmarksCmd
}

func loadCatalogue(cmd *cobra.Command) (*catalogue.Catalogue, string, error) {
	dir, err := cmd.Flags().GetString("catalogue-dir")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get catalogue-dir flag: %w", err)
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get output flag: %w", err)
	}
	if output != outputTable && output != outputJSON {
		return nil, "", fmt.Errorf("invalid output '%s': supported values are '%s' and '%s'", output, outputTable, outputJSON)
	}
	benchmarks, err := catalogue.Load(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load catalogue: %w", err)
	}
	return catalogue.New(benchmarks...), output, nil
}

type benchmarkEntry struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
	Checks  int    `json:"checks"`
}

func printBenchmarks(cmd *cobra.Command, benchmarks []*catalogue.Benchmark, output string) error {
	entries := make([]benchmarkEntry, 0, len(benchmarks))
	for _, b := range benchmarks {
		entries = append(entries, benchmarkEntry{
			ID:      b.ID,
			Version: b.Version.String(),
			Title:   b.Title,
			Checks:  len(b.Checks),
		})
	}
	if output == outputJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tCHECKS\tTITLE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.ID, e.Version, e.Checks, e.Title)
	}
	return w.Flush()
}

type checkEntry struct {
	RecommendationID string   `json:"recommendationId"`
	Title            string   `json:"title,omitempty"`
	Level            string   `json:"level"`
	Modules          []string `json:"modules,omitempty"`
	Timeout          string   `json:"timeout,omitempty"`
}

func printChecks(cmd *cobra.Command, checks []catalogue.Definition, output string) error {
	entries := make([]checkEntry, 0, len(checks))
	for _, def := range checks {
		entry := checkEntry{
			RecommendationID: def.RecommendationID,
			Title:            def.Title,
			Level:            def.Level,
			Modules:          def.Modules,
		}
		if def.Timeout > 0 {
			entry.Timeout = def.Timeout.String()
		}
		entries = append(entries, entry)
	}
	if output == outputJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLEVEL\tMODULES\tTITLE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.RecommendationID, e.Level, strings.Join(e.Modules, ","), e.Title)
	}
	return w.Flush()
}
