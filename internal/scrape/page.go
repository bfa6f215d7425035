package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/alttext-cli/internal/resilience"
)

const maxPageBytes = 2 * 1024 * 1024

// PageScraper fetches HTML via net/http and extracts context with regex.
// No headless browser, no API calls.
type PageScraper struct {
	client    *http.Client
	userAgent string
}

// NewPageScraper creates a PageScraper. Zero timeout means 30s.
func NewPageScraper(timeout time.Duration, userAgent string) *PageScraper {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	}
	return &PageScraper{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

// ScrapePage fetches pageURL and extracts title, H1, and adjacent text for
// each image URL. A 403 response or detected anti-bot block returns a
// BlockedError; any other failure returns a plain error and the caller
// proceeds with empty context.
func (s *PageScraper) ScrapePage(ctx context.Context, pageURL string, imageURLs []string) (*PageResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: fetch page")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		return nil, &resilience.BlockedError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, &resilience.BlockedError{URL: pageURL, StatusCode: resp.StatusCode, Kind: string(blockType)}
	}

	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("scrape: status %d for %s", resp.StatusCode, pageURL)
	}

	html := string(body)
	result := &PageResult{
		Title:    extractTag(html, "title"),
		H1:       extractTag(html, "h1"),
		Adjacent: make(map[string]string, len(imageURLs)),
	}
	for _, imageURL := range imageURLs {
		result.Adjacent[imageURL] = findAdjacentText(html, imageURL)
	}
	return result, nil
}

var (
	imgTagRe     = regexp.MustCompile(`(?is)<img[^>]*>`)
	srcAttrRe    = regexp.MustCompile(`(?i)(?:src|data-src)\s*=\s*["']([^"']+)["']`)
	figcaptionRe = regexp.MustCompile(`(?is)<figcaption[^>]*>(.*?)</figcaption>`)
	captionRe    = regexp.MustCompile(`(?is)<(?:p|div|span)[^>]*class\s*=\s*["'][^"']*caption[^"']*["'][^>]*>(.*?)</(?:p|div|span)>`)
	headingRe    = regexp.MustCompile(`(?is)<h([234])[^>]*>(.*?)</h[234]>`)
)

// findAdjacentText locates each occurrence of imageURL in an img tag (src
// or data-src) and collects, in order of preference: a figcaption in the
// enclosing figure, a nearby caption-classed sibling, or the closest
// preceding h2-h4. Multiple occurrences are joined with " | ".
func findAdjacentText(html, imageURL string) string {
	var texts []string
	for _, loc := range imgTagRe.FindAllStringIndex(html, -1) {
		tag := html[loc[0]:loc[1]]
		if !imgTagReferences(tag, imageURL) {
			continue
		}
		if text := adjacentForOccurrence(html, loc[0], loc[1]); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, " | ")
}

// imgTagReferences reports whether any src or data-src attribute of the
// img tag contains imageURL.
func imgTagReferences(tag, imageURL string) bool {
	for _, m := range srcAttrRe.FindAllStringSubmatch(tag, -1) {
		if strings.Contains(m[1], imageURL) {
			return true
		}
	}
	return false
}

func adjacentForOccurrence(html string, tagStart, tagEnd int) string {
	// figcaption inside the enclosing <figure>.
	figStart := strings.LastIndex(strings.ToLower(html[:tagStart]), "<figure")
	if figStart >= 0 {
		figEnd := strings.Index(strings.ToLower(html[tagStart:]), "</figure>")
		if figEnd >= 0 {
			figure := html[figStart : tagStart+figEnd]
			if m := figcaptionRe.FindStringSubmatch(figure); m != nil {
				if text := innerText(m[1]); text != "" {
					return text
				}
			}
		}
	}

	// caption-classed sibling within a short window after the tag.
	window := html[tagEnd:]
	if len(window) > 1000 {
		window = window[:1000]
	}
	if m := captionRe.FindStringSubmatch(window); m != nil {
		if text := innerText(m[1]); text != "" {
			return text
		}
	}

	// closest preceding h2, h3, or h4.
	headings := headingRe.FindAllStringSubmatch(html[:tagStart], -1)
	if len(headings) > 0 {
		return innerText(headings[len(headings)-1][2])
	}
	return ""
}

// extractTag returns the inner text of the first occurrence of tag.
func extractTag(html, tag string) string {
	re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>(.*?)</` + tag + `>`)
	m := re.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return innerText(m[1])
}

var (
	innerTagRe = regexp.MustCompile(`<[^>]+>`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// innerText strips nested tags, decodes common entities, and collapses
// whitespace.
func innerText(fragment string) string {
	text := innerTagRe.ReplaceAllString(fragment, " ")
	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	text = r.Replace(text)
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}
