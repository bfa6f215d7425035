package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/alttext-cli/internal/config"
	"github.com/sells-group/alttext-cli/internal/queue"
	"github.com/sells-group/alttext-cli/internal/store"
)

// pollInterval is how often the consumer checks for a queued job.
const pollInterval = 2 * time.Second

var watchDir string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a directory and process manifests as they arrive",
	Long:  "Monitors a directory for CSV manifests and processes them one at a time in arrival order. A YAML sidecar with the same stem supplies per-manifest settings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if watchDir != "" {
			cfg.Watch.Dir = watchDir
		}
		if cfg.Watch.Dir == "" {
			return eris.New("watch: no directory configured")
		}
		if err := os.MkdirAll(cfg.Watch.Dir, 0o755); err != nil {
			return eris.Wrap(err, "watch: create directory")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		q := queue.New()
		w, err := queue.NewWatcher(cfg.Watch.Dir, q)
		if err != nil {
			return err
		}
		if err := w.ScanExisting(); err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return w.Run(ctx) })
		g.Go(func() error { return consumeJobs(ctx, q, st) })

		if err := g.Wait(); err != nil && !eris.Is(err, context.Canceled) {
			return err
		}

		stats := q.Stats()
		zap.L().Info("watch: shutting down",
			zap.Int("completed", stats.Completed),
			zap.Int("failed", stats.Failed),
			zap.Int("still_queued", stats.Queued))
		return nil
	},
}

// consumeJobs drains the queue one manifest at a time until the context is
// canceled. Jobs that fail are marked and left behind; the loop moves on.
func consumeJobs(ctx context.Context, q *queue.Queue, st store.Store) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job := q.Next()
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			continue
		}

		processJob(ctx, q, st, job)

		if cfg.Watch.CleanupCompleted {
			if removed := q.CleanupCompleted(); removed > 0 {
				zap.L().Info("watch: cleaned up inputs", zap.Int("files", removed))
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func processJob(ctx context.Context, q *queue.Queue, st store.Store, job *queue.Job) {
	q.MarkProcessing(job)
	zap.L().Info("watch: processing manifest", zap.String("csv", job.CSVPath))

	var jc config.JobConfig
	if job.YAMLPath != "" {
		loaded, err := config.LoadJobConfig(job.YAMLPath)
		if err != nil {
			q.MarkFailed(job, err.Error())
			zap.L().Error("watch: bad job config", zap.String("csv", job.CSVPath), zap.Error(err))
			return
		}
		jc = loaded
	}

	e := buildEngine(st, jc.Instructions)
	go func() {
		<-ctx.Done()
		e.RequestStop()
	}()

	summary, err := e.Run(ctx, job.CSVPath, jc)
	if err != nil {
		q.MarkFailed(job, err.Error())
		zap.L().Error("watch: manifest failed", zap.String("csv", job.CSVPath), zap.Error(err))
		return
	}

	q.MarkCompleted(job, summary.Processed, summary.Skipped, summary.Failed, summary.CostUSD)
	zap.L().Info("watch: manifest done",
		zap.String("csv", job.CSVPath),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Float64("cost_usd", summary.CostUSD),
		zap.String("halt", summary.Halt))
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "directory to watch (overrides config)")
	rootCmd.AddCommand(watchCmd)
}
