package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/alttext-cli/internal/config"
)

var (
	runCSV     string
	runRestart bool
	runMaxCost float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a single manifest CSV",
	Long:  "Generates alt text for every image row in the manifest. Rerunning a partially processed manifest resumes where it left off; --restart clears prior results first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		job, err := config.JobConfigForManifest(runCSV)
		if err != nil {
			return eris.Wrap(err, "load job config")
		}
		if runRestart {
			job.Restart = true
		}
		if runMaxCost > 0 {
			job.MaxCost = runMaxCost
		}

		e := buildEngine(st, job.Instructions)

		// First interrupt halts at the next batch boundary; a second kills
		// the context.
		go func() {
			<-ctx.Done()
			e.RequestStop()
		}()

		summary, err := e.Run(ctx, runCSV, job)
		if err != nil {
			return eris.Wrap(err, "run manifest")
		}

		zap.L().Info("manifest run finished",
			zap.String("run_id", summary.RunID),
			zap.Int("processed", summary.Processed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
			zap.Float64("cost_usd", summary.CostUSD),
			zap.String("halt", summary.Halt),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runCSV, "csv", "", "path to manifest CSV (required)")
	runCmd.Flags().BoolVar(&runRestart, "restart", false, "clear existing alt text and reprocess everything")
	runCmd.Flags().Float64Var(&runMaxCost, "max-cost", 0, "spend ceiling in USD (overrides sidecar config)")
	_ = runCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(runCmd)
}
