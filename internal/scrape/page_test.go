package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/alttext-cli/internal/resilience"
)

func newTestScraper() *PageScraper {
	return NewPageScraper(5*time.Second, "")
}

func serveHTML(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScrapePage_TitleAndH1(t *testing.T) {
	srv := serveHTML(t, `<html><head><title>Acme Farm Supply</title></head>
<body><h1>Welcome to <em>Acme</em></h1><p>Equipment for every season.</p></body></html>`)

	result, err := newTestScraper().ScrapePage(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "Acme Farm Supply", result.Title)
	assert.Equal(t, "Welcome to Acme", result.H1)
}

func TestScrapePage_Figcaption(t *testing.T) {
	srv := serveHTML(t, `<html><body><h1>Products</h1>
<figure><img src="https://cdn.acme.com/tractor.jpg"><figcaption>A 2024 row-crop tractor</figcaption></figure>
</body></html>`)

	result, err := newTestScraper().ScrapePage(context.Background(), srv.URL,
		[]string{"https://cdn.acme.com/tractor.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "A 2024 row-crop tractor", result.Adjacent["https://cdn.acme.com/tractor.jpg"])
}

func TestScrapePage_CaptionClassSibling(t *testing.T) {
	srv := serveHTML(t, `<html><body>
<img src="/img/silo.jpg"><p class="wp-caption-text">Grain silo at dusk</p>
</body></html>`)

	result, err := newTestScraper().ScrapePage(context.Background(), srv.URL, []string{"/img/silo.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "Grain silo at dusk", result.Adjacent["/img/silo.jpg"])
}

func TestScrapePage_PrecedingHeading(t *testing.T) {
	srv := serveHTML(t, `<html><body><h1>Catalog</h1>
<h2>Tillage</h2><p>intro</p>
<h3>Disc Harrows</h3><p>text</p>
<img src="/img/harrow.jpg">
</body></html>`)

	result, err := newTestScraper().ScrapePage(context.Background(), srv.URL, []string{"/img/harrow.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "Disc Harrows", result.Adjacent["/img/harrow.jpg"])
}

func TestScrapePage_DataSrc(t *testing.T) {
	srv := serveHTML(t, `<html><body><h2>Lazy Section</h2>
<img data-src="/img/lazy.jpg" src="placeholder.gif">
</body></html>`)

	result, err := newTestScraper().ScrapePage(context.Background(), srv.URL, []string{"/img/lazy.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "Lazy Section", result.Adjacent["/img/lazy.jpg"])
}

func TestScrapePage_MultipleOccurrences(t *testing.T) {
	srv := serveHTML(t, `<html><body>
<figure><img src="/img/twice.jpg"><figcaption>First caption</figcaption></figure>
<h2>Later Section</h2>
<img src="/img/twice.jpg">
</body></html>`)

	result, err := newTestScraper().ScrapePage(context.Background(), srv.URL, []string{"/img/twice.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "First caption | Later Section", result.Adjacent["/img/twice.jpg"])
}

func TestScrapePage_NoMatch(t *testing.T) {
	srv := serveHTML(t, `<html><body><h1>Nothing here</h1></body></html>`)

	result, err := newTestScraper().ScrapePage(context.Background(), srv.URL, []string{"/img/ghost.jpg"})
	require.NoError(t, err)
	assert.Empty(t, result.Adjacent["/img/ghost.jpg"])
}

func TestScrapePage_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestScraper().ScrapePage(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, resilience.IsBlocked(err))
}

func TestScrapePage_CloudflareBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<html><body>Access denied</body></html>`))
	}))
	defer srv.Close()

	_, err := newTestScraper().ScrapePage(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, resilience.IsBlocked(err))
}

func TestScrapePage_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestScraper().ScrapePage(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.False(t, resilience.IsBlocked(err))
	assert.Contains(t, err.Error(), "status 500")
}

func TestContext(t *testing.T) {
	r := &PageResult{
		Title:    "T",
		H1:       "H",
		Adjacent: map[string]string{"/a.jpg": "near"},
	}
	pc := r.Context("/a.jpg")
	assert.Equal(t, "T", pc.Title)
	assert.Equal(t, "H", pc.H1)
	assert.Equal(t, "near", pc.AdjacentText)
	assert.Empty(t, r.Context("/b.jpg").AdjacentText)
}

func TestInnerText(t *testing.T) {
	assert.Equal(t, `<tag> & "quoted"`, innerText(`&lt;tag&gt; &amp; &quot;quoted&quot;`))
	assert.Equal(t, "a b", innerText("a \n\t  b"))
	assert.Equal(t, "nested text", innerText("<span>nested</span> text"))
}
