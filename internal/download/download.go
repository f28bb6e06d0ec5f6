// Package download streams release artifacts to disk through a mirror
// cascade. Transfers land in a uniquely-named temp file that is renamed
// into place only after the stream completes, so an interrupted download
// never leaves a corrupted final artifact.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/CloakHQ/cloakbrowser/internal/logging"
)

var (
	// ErrFailed reports that every mirror in the cascade failed.
	ErrFailed = errors.New("download failed")

	// ErrTimeout reports that the transfer hit its wall-clock limit.
	ErrTimeout = errors.New("download timed out")
)

// textFetchTimeout bounds small-document fetches (manifests, API bodies).
const textFetchTimeout = 10 * time.Second

// ProgressFunc receives byte counts during a transfer. total is zero when
// the server sends no content length.
type ProgressFunc func(downloaded, total int64)

// Engine performs HTTP downloads with mirror fallback.
type Engine struct {
	client   *retryablehttp.Client
	log      *logging.Logger
	progress ProgressFunc
	timeout  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the retrying HTTP client, mainly for tests.
func WithHTTPClient(client *retryablehttp.Client) Option {
	return func(e *Engine) {
		if client != nil {
			e.client = client
		}
	}
}

// WithProgress installs a progress callback invoked as bytes arrive.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// NewEngine creates an Engine. timeout bounds each mirror attempt for
// archive transfers. A nil logger is replaced with a no-op logger.
func NewEngine(log *logging.Logger, timeout time.Duration, opts ...Option) *Engine {
	if log == nil {
		log = logging.NewNop()
	}
	e := &Engine{
		client:  newRetryClient(),
		log:     log,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newRetryClient builds the shared HTTP client: a few quick retries for
// transient connection failures, no client-side logging.
func newRetryClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.Logger = nil
	return client
}

// Fetch streams the first reachable URL to dest. Mirrors are tried in
// order; a non-2xx response, network error or per-attempt timeout moves
// on to the next. When every mirror fails the result wraps ErrTimeout if
// the last attempt hit the clock, ErrFailed otherwise — and no file
// exists at dest.
func (e *Engine) Fetch(ctx context.Context, urls []string, dest string) error {
	if len(urls) == 0 {
		return fmt.Errorf("%w: no mirrors to try", ErrFailed)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	var lastErr error
	for _, url := range urls {
		err := e.fetchOne(ctx, url, dest)
		if err == nil {
			return nil
		}
		lastErr = err

		// The caller's context ending is not a mirror problem; stop the
		// cascade.
		if ctx.Err() != nil {
			break
		}
		e.log.Warn("download attempt failed, trying next mirror",
			zap.String("url", url),
			zap.Error(err))
	}

	sentinel := ErrFailed
	if errors.Is(lastErr, context.DeadlineExceeded) {
		sentinel = ErrTimeout
	}
	return fmt.Errorf("%w: tried %s: %v", sentinel, strings.Join(urls, ", "), lastErr)
}

func (e *Engine) fetchOne(ctx context.Context, url, dest string) error {
	attemptCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.log.Info("downloading", zap.String("url", url))

	req, err := retryablehttp.NewRequestWithContext(attemptCtx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	reader := e.wrapProgress(resp.Body, resp.ContentLength)
	if _, err := io.Copy(tmp, reader); err != nil {
		// Surface the deadline instead of the wrapped copy error so the
		// cascade can classify the failure.
		if attemptCtx.Err() != nil {
			return fmt.Errorf("transfer aborted: %w", attemptCtx.Err())
		}
		return fmt.Errorf("transfer failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	if info, err := os.Stat(dest); err == nil {
		e.log.Info("download complete",
			zap.String("dest", dest),
			zap.Int64("size_mb", info.Size()/(1<<20)))
	}
	return nil
}

// FetchText returns the body of the first reachable URL as text, for
// small documents like checksum manifests. Each attempt gets a short
// timeout; limit caps the bytes read.
func (e *Engine) FetchText(ctx context.Context, urls []string, limit int64) (string, error) {
	var lastErr error
	for _, url := range urls {
		text, err := e.fetchTextOne(ctx, url, limit)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("all sources failed: %w", lastErr)
}

func (e *Engine) fetchTextOne(ctx context.Context, url string, limit int64) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, textFetchTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(attemptCtx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(body), nil
}

func (e *Engine) wrapProgress(r io.Reader, total int64) io.Reader {
	return &progressReader{
		r:       r,
		total:   total,
		report:  e.progress,
		log:     e.log,
		lastPct: -10,
	}
}

// progressReader counts bytes, forwards them to the optional callback and
// logs a line every ~10% of known content length.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	report  ProgressFunc
	log     *logging.Logger
	lastPct int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.report != nil {
			p.report(p.read, p.total)
		}
		if p.total > 0 {
			pct := int(p.read * 100 / p.total)
			if pct >= p.lastPct+10 {
				p.lastPct = pct
				p.log.Info("download progress",
					zap.Int("percent", pct),
					zap.Int64("downloaded_mb", p.read/(1<<20)),
					zap.Int64("total_mb", p.total/(1<<20)))
			}
		}
	}
	return n, err
}
