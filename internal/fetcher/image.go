// Package fetcher downloads images for inference, enforcing the byte cap
// while reading and probing dimensions from the downloaded bytes.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	// Registered decoders for dimension probing.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/sells-group/alttext-cli/internal/classify"
	"github.com/sells-group/alttext-cli/internal/resilience"
)

// SizeRejectedError reports a download that exceeded the file byte cap.
// Bytes is the full size when the server declared one, otherwise the count
// actually transferred. Never retried; callers classify it as a rejection
// rather than a download failure.
type SizeRejectedError struct {
	URL   string
	Bytes int64
}

func (e *SizeRejectedError) Error() string {
	return fmt.Sprintf("fetcher: %s exceeds %dMB download cap (%d bytes)",
		e.URL, classify.MaxFileBytes/(1024*1024), e.Bytes)
}

// ImageData is a downloaded image ready for inference. Width and Height are
// zero when the format could not be decoded.
type ImageData struct {
	Bytes     []byte
	Width     int
	Height    int
	MediaType string
}

// ImageFetcher downloads images over HTTP with a shared rate limit.
type ImageFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewImageFetcher creates a fetcher. ratePerSec <= 0 disables rate limiting,
// zero timeout means 30s.
func NewImageFetcher(timeout time.Duration, ratePerSec float64, userAgent string) *ImageFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	}
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &ImageFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter:   limiter,
		userAgent: userAgent,
	}
}

// Fetch downloads imageURL. The read stops one byte past the file cap so an
// oversized download fails fast instead of buffering the whole file. A 403
// returns a BlockedError; 429/5xx return a TransientError for retry.
func (f *ImageFetcher) Fetch(ctx context.Context, imageURL string) (*ImageData, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: download")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, &resilience.BlockedError{URL: imageURL, StatusCode: resp.StatusCode}
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("fetcher: status %d for %s", resp.StatusCode, imageURL), resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, eris.Errorf("fetcher: status %d for %s", resp.StatusCode, imageURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, classify.MaxFileBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}
	if int64(len(data)) > classify.MaxFileBytes {
		size := resp.ContentLength
		if size < int64(len(data)) {
			size = int64(len(data))
		}
		return nil, &SizeRejectedError{URL: imageURL, Bytes: size}
	}

	width, height := probeDimensions(data)
	return &ImageData{
		Bytes:     data,
		Width:     width,
		Height:    height,
		MediaType: mediaType(resp.Header.Get("Content-Type"), imageURL, data),
	}, nil
}

// probeDimensions reads the image header only; a full decode is never needed.
func probeDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// mediaType resolves the image media type from the Content-Type header, the
// URL extension, or the decoded format, in that order.
func mediaType(contentType, imageURL string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}

	ext := strings.ToLower(path.Ext(strings.SplitN(imageURL, "?", 2)[0]))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}

	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return "image/" + format
	}
	return "image/jpeg"
}
