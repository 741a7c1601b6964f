// Package modelstore fetches model artifacts over HTTP and caches them by URL.
package modelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/logger"
)

// ProgressFunc receives byte progress. total is -1 when the server did not
// send a Content-Length.
type ProgressFunc func(current, total int64)

// DefaultTimeout tolerates multi-hundred-MB artifacts on slow links.
const DefaultTimeout = time.Hour

const chunkSize = 256 << 10

// Store downloads artifacts and keeps them in a BlobCache.
type Store struct {
	cache   BlobCache
	client  *http.Client
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// WithTimeout bounds a single download, including the cache write.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Store over cache.
func New(cache BlobCache, opts ...Option) *Store {
	s := &Store{
		cache:   cache,
		client:  http.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsCached reports whether url is in the cache without touching the network.
func (s *Store) IsCached(url string) bool {
	return s.cache.Exists(url)
}

// Evict drops the cached copy of url so the next Download fetches it again.
// Callers use it when a cached artifact turns out to be unusable.
func (s *Store) Evict(url string) error {
	if err := s.cache.Delete(url); err != nil {
		return fmt.Errorf("failed to evict %s: %w", url, err)
	}
	logger.Logger().Info("model evicted from cache", "url", url)
	return nil
}

// Download returns the artifact at url. A cache hit reports a single
// completed progress event and no byte-level detail. On a miss the body is
// streamed, progress is reported per chunk, and the blob is cached only
// after the full body arrived intact. Cancelling ctx aborts the transfer;
// a retry starts from zero.
func (s *Store) Download(ctx context.Context, url string, progress ProgressFunc) ([]byte, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}

	data, ok, err := s.cache.Get(url)
	if err != nil {
		logger.Logger().Warn("cache read failed, downloading", "url", url, "error", err)
	} else if ok {
		n := int64(len(data))
		progress(n, n)
		logger.Logger().Debug("model cache hit", "url", url, "bytes", n)
		return data, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err = s.fetch(ctx, url, progress)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, faceerr.New(faceerr.KindModelDownload, url, err)
	}

	if err := s.cache.Put(url, data); err != nil {
		return nil, faceerr.New(faceerr.KindModelDownload, url, err)
	}
	logger.Logger().Info("model downloaded", "url", url, "bytes", len(data))
	return data, nil
}

func (s *Store) fetch(ctx context.Context, url string, progress ProgressFunc) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}

	total := resp.ContentLength
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}

	chunk := make([]byte, chunkSize)
	var current int64
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			current += int64(n)
			progress(current, total)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("failed to read body after %d bytes: %w", current, rerr)
		}
	}

	if total >= 0 && current != total {
		return nil, fmt.Errorf("truncated body: got %d of %d bytes: %w", current, total, io.ErrUnexpectedEOF)
	}
	return buf.Bytes(), nil
}
