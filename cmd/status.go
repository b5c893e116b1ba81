package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/da-ingest/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show in-flight checkpoints, stored record count and recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cps, err := st.ListCheckpoints(ctx)
		if err != nil {
			return eris.Wrap(err, "status: checkpoints")
		}
		count, err := st.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "status: count")
		}
		runs, err := st.ListRuns(ctx, 5)
		if err != nil {
			return eris.Wrap(err, "status: runs")
		}

		formatStatus(os.Stdout, cps, count)
		if len(runs) > 0 {
			fmt.Fprintln(os.Stdout)
			formatRunsList(os.Stdout, runs)
		}
		return nil
	},
}

// formatStatus writes the store size and every resumable checkpoint.
func formatStatus(out io.Writer, cps []model.FetchCheckpoint, count int) {
	_, _ = fmt.Fprintf(out, "Records in store: %d\n", count)
	if len(cps) == 0 {
		_, _ = fmt.Fprintln(out, "No runs in progress.")
		return
	}

	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANGE\tRUN\tLAST_PAGE\tWRITTEN\tUPDATED")
	_, _ = fmt.Fprintln(w, "-----\t---\t---------\t-------\t-------")
	for _, cp := range cps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			cp.Range(),
			truncateID(cp.RunID),
			cp.LastCompletedPage,
			cp.RecordsWrittenSoFar,
			cp.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
