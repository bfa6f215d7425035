// Package scrape extracts page context for images: the page title, the
// first H1, and text adjacent to each image occurrence. The context rides
// along with the image into inference so alt text can reference what the
// page is actually about.
package scrape

import (
	"context"

	"github.com/sells-group/alttext-cli/internal/model"
)

// PageResult holds the context scraped from one page. Adjacent maps each
// requested image URL to the text found near its occurrences on the page.
type PageResult struct {
	Title    string
	H1       string
	Adjacent map[string]string
}

// Context assembles the per-image context for one of the page's images.
func (r *PageResult) Context(imageURL string) model.PageContext {
	return model.PageContext{
		Title:        r.Title,
		H1:           r.H1,
		AdjacentText: r.Adjacent[imageURL],
	}
}

// Scraper fetches a page and extracts context for the given images.
// A 403 or anti-bot block surfaces as a resilience.BlockedError, which
// halts the whole run rather than burning requests against a site that
// has shut the door.
type Scraper interface {
	ScrapePage(ctx context.Context, pageURL string, imageURLs []string) (*PageResult, error)
}
