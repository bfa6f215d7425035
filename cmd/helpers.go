package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/alttext-cli/internal/engine"
	"github.com/sells-group/alttext-cli/internal/fetcher"
	"github.com/sells-group/alttext-cli/internal/scrape"
	"github.com/sells-group/alttext-cli/internal/store"
	"github.com/sells-group/alttext-cli/internal/vision"
	"github.com/sells-group/alttext-cli/pkg/anthropic"
)

// initStore opens and migrates the run-state database.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// buildEngine wires the engine's collaborators from config. Instructions
// come from the per-manifest job config, so the generator is built per run.
func buildEngine(st store.Store, instructions string) *engine.Engine {
	scraper := scrape.NewPageScraper(
		time.Duration(cfg.Scrape.TimeoutSecs)*time.Second, cfg.Scrape.UserAgent)
	imageFetcher := fetcher.NewImageFetcher(
		time.Duration(cfg.Fetch.TimeoutSecs)*time.Second, cfg.Fetch.RatePerSec, cfg.Fetch.UserAgent)
	generator := vision.NewGenerator(
		anthropic.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic.Model, instructions, cfg.Anthropic.MaxTokensPerImage)

	return engine.New(cfg, st, scraper, imageFetcher, generator)
}
