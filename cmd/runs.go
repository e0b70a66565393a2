package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxcomp-cli/internal/model"
	"github.com/sells-group/taxcomp-cli/internal/monitoring"
	"github.com/sells-group/taxcomp-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
	Long:  "Commands for listing, viewing, and summarizing comparison runs.",
}

// openRunStore validates config, opens the store, and applies migrations.
// The caller owns the returned store and must Close it.
func openRunStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("runs"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kind, _ := cmd.Flags().GetString("kind")
		status, _ := cmd.Flags().GetString("status")
		client, _ := cmd.Flags().GetString("client")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Kind:   model.RunKind(kind),
			Status: model.RunStatus(status),
			Client: client,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "list runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No matching runs.")
			return nil
		}

		writeRunTable(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its archived metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load run")
		}
		metrics, err := st.GetRunMetrics(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load run metrics")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run     *model.Run     `json:"run"`
			Metrics []model.Metric `json:"metrics"`
		}{run, metrics})
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent run outcomes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := max(int(since.Hours()), 1)

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "collect run stats")
		}

		writeStatsTable(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("kind", "", "filter by run kind (compare, params, demo)")
	runsListCmd.Flags().String("status", "", "filter by run status (pending, running, completed, failed)")
	runsListCmd.Flags().String("client", "", "filter by client name")
	runsListCmd.Flags().Int("limit", 50, "most recent runs to show")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "look-back window as a duration (72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// writeRunTable writes a tabular list of runs to out.
func writeRunTable(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tCLIENT\tSTATUS\tMETRICS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t-------\t-------\t--------")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(r.ID), r.Kind, clipName(r.Client), r.Status, r.MetricCount,
			r.CreatedAt.Format("2006-01-02 15:04"), runDuration(r))
	}
	_ = w.Flush()
}

// writeStatsTable writes a metrics snapshot to out.
func writeStatsTable(out io.Writer, snap *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", snap.RunsTotal)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", snap.RunsCompleted)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", snap.RunsFailed)
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", snap.RunsPending)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", snap.RunsRunning)
	_, _ = fmt.Fprintf(w, "  compare:\t%d\n", snap.CompareRuns)
	_, _ = fmt.Fprintf(w, "  params:\t%d\n", snap.ParamsRuns)
	_, _ = fmt.Fprintf(w, "  demo:\t%d\n", snap.DemoRuns)
	_, _ = fmt.Fprintf(w, "Metrics archived:\t%d\n", snap.MetricsArchived)
	if snap.RunsCompleted+snap.RunsFailed > 0 {
		_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.FailRate*100)
	}
	_ = w.Flush()
}

func runDuration(r model.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.CreatedAt).Round(time.Second).String()
}

func clipName(name string) string {
	if len(name) > 30 {
		return name[:27] + "..."
	}
	return name
}

// shortID trims a UUID to its first block for table display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
