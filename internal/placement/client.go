package placement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/photos_relay/internal/logctx"
	"github.com/italolelis/photos_relay/internal/progress"
)

var ErrSessionNotFound = errors.New("session not found on relay")

// Result summarises one placement run.
type Result struct {
	Saved   []string
	Skipped []string
	Failed  []string
	// Errors holds item errors reported by the relay followed by local
	// placement errors.
	Errors []string
}

// Client pulls a session's completed files from the relay into a local
// directory.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxParallel  int
}

// NewClient creates a placement client. A nil httpClient means
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, pollInterval time.Duration, maxParallel int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   httpClient,
		pollInterval: pollInterval,
		maxParallel:  maxParallel,
	}
}

// Sync polls the session until it is complete, placing every completed file
// into targetDir as soon as it is listed. Files already present are skipped.
// The relay session is cleaned up once every file was saved or skipped; it
// is kept when a local write failed so a later run can retry. A session the
// relay does not know ends the run without error.
func (c *Client) Sync(ctx context.Context, sessionID, targetDir string) (Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("session_id", sessionID)

	var (
		mu      sync.Mutex
		result  Result
		handled = make(map[string]struct{})
	)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		rec, err := c.Progress(ctx, sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			logger.Info("session not found on relay, nothing to do")

			return result, nil
		}

		if err != nil {
			return result, err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.maxParallel)

		for _, f := range rec.CompletedFiles {
			if _, ok := handled[f.Filename]; ok {
				continue
			}

			handled[f.Filename] = struct{}{}

			g.Go(func() error {
				skipped, err := c.place(gctx, sessionID, targetDir, f)

				mu.Lock()
				defer mu.Unlock()

				switch {
				case err != nil:
					logger.Error("failed to place file", "filename", f.Filename, "err", err)
					result.Failed = append(result.Failed, f.Filename)
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", f.Filename, err))
				case skipped:
					logger.Debug("file already present, skipped", "filename", f.Filename)
					result.Skipped = append(result.Skipped, f.Filename)
				default:
					logger.Info("file placed", "filename", f.Filename, "size", humanize.Bytes(uint64(f.ByteSize)))
					result.Saved = append(result.Saved, f.Filename)
				}

				return nil
			})
		}

		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return result, err
		}

		if rec.IsComplete {
			result.Errors = append(append([]string{}, rec.Errors...), result.Errors...)

			if len(result.Failed) > 0 {
				logger.Warn("keeping relay session, some files could not be placed", "failed", len(result.Failed))

				return result, nil
			}

			if err := c.Cleanup(ctx, sessionID); err != nil {
				return result, err
			}

			logger.Info("placement finished",
				"saved", len(result.Saved),
				"skipped", len(result.Skipped),
				"relay_failed", rec.FailedCount,
			)

			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

// place writes one file atomically. It reports skipped when the target
// already exists.
func (c *Client) place(ctx context.Context, sessionID, targetDir string, f progress.CompletedFile) (bool, error) {
	if f.Filename == "" || filepath.Base(f.Filename) != f.Filename {
		return false, fmt.Errorf("refusing to write %q outside the target directory", f.Filename)
	}

	target := filepath.Join(targetDir, f.Filename)

	if _, err := os.Stat(target); err == nil {
		return true, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to check target file: %w", err)
	}

	tmp, err := os.CreateTemp(targetDir, "."+f.Filename+".part-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temporary file: %w", err)
	}

	tmpName := tmp.Name()

	if err := c.FetchFile(ctx, sessionID, f.Filename, tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return false, err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return false, fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)

		return false, fmt.Errorf("failed to move file into place: %w", err)
	}

	return false, nil
}

// Progress fetches the session's progress record.
func (c *Client) Progress(ctx context.Context, sessionID string) (progress.Record, error) {
	var rec progress.Record

	resp, err := c.get(ctx, "/api/progress", url.Values{"id": {sessionID}})
	if err != nil {
		return rec, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return rec, err
	}

	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return rec, fmt.Errorf("failed to decode progress: %w", err)
	}

	return rec, nil
}

// FetchFile copies one staged file into w.
func (c *Client) FetchFile(ctx context.Context, sessionID, filename string, w io.Writer) error {
	resp, err := c.get(ctx, "/api/file", url.Values{"sessionId": {sessionID}, "filename": {filename}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	return nil
}

// Cleanup asks the relay to remove the session.
func (c *Client) Cleanup(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return fmt.Errorf("failed to marshal cleanup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/cleanup", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to clean up session: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay: %w", err)
	}

	return resp, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}

	_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body)

	if resp.StatusCode == http.StatusNotFound && body.Error == "session not found" {
		return ErrSessionNotFound
	}

	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	return fmt.Errorf("relay returned %d: %s", resp.StatusCode, body.Error)
}
