package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/photos_relay/internal/logctx"
	"golang.org/x/oauth2"
)

const progressInterval = 8 * 1024 * 1024 // 8MB

// Fetcher retrieves the bytes behind a locator using the given credential.
type Fetcher interface {
	Fetch(ctx context.Context, locator, credential string) ([]byte, error)
}

// HTTPFetcher fetches media over HTTP, sending the credential as a bearer
// token and a fixed client label as User-Agent. The whole body is buffered.
type HTTPFetcher struct {
	clientLabel string
	timeout     time.Duration
	base        http.RoundTripper
}

// NewHTTPFetcher creates a fetcher. A nil base transport means
// http.DefaultTransport; a zero timeout means no client timeout.
func NewHTTPFetcher(clientLabel string, timeout time.Duration, base http.RoundTripper) *HTTPFetcher {
	if base == nil {
		base = http.DefaultTransport
	}

	return &HTTPFetcher{
		clientLabel: clientLabel,
		timeout:     timeout,
		base:        base,
	}
}

// Fetch performs one authenticated GET and returns the full payload.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator, credential string) ([]byte, error) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.clientLabel)

	resp, err := f.clientFor(credential).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

		return nil, &TransferError{Status: resp.StatusCode, StatusText: statusText(resp)}
	}

	pr := newProgressReader(resp.Body, resp.ContentLength, progressInterval, func(read int64, total int64) {
		if total > 0 {
			logger.Debug("fetch progress",
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("fetch progress", "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	data, err := io.ReadAll(pr)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func (f *HTTPFetcher) clientFor(credential string) *http.Client {
	return &http.Client{
		Timeout: f.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential}),
			Base:   f.base,
		},
	}
}

// statusText returns the reason phrase of a response, falling back to the
// standard text for the code.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}

	return text
}
