package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/alttext-cli/internal/model"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent manifest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		formatRunsList(runs)
		return nil
	},
}

func formatRunsList(runs []model.RunState) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMANIFEST\tSTATUS\tDONE\tSKIP\tFAIL\tCOST\tCREATED\tDURATION")
	for _, r := range runs {
		status := string(r.Status)
		if r.HaltReason != "" {
			status = fmt.Sprintf("%s (%s)", r.Status, r.HaltReason)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t$%.4f\t%s\t%s\n",
			truncateID(r.ID),
			filepath.Base(r.ManifestPath),
			status,
			r.RowsCompleted, r.TotalRows,
			r.RowsSkipped,
			r.RowsFailed,
			r.CumulativeCost,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			runDuration(r),
		)
	}
	w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runDuration(r model.RunState) string {
	if r.UpdatedAt.IsZero() || r.CreatedAt.IsZero() {
		return "-"
	}
	d := r.UpdatedAt.Sub(r.CreatedAt)
	if d < 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(runsCmd)
}
