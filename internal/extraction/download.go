package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ErrDownload wraps every failure to retrieve the full recording.
var ErrDownload = errors.New("extraction: download failed")

// Fetcher retrieves a remote resource into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dst string) (int64, error)
}

// HTTPFetcher downloads over HTTP with a bounded number of retries for
// network errors, 429 and 5xx.
type HTTPFetcher struct {
	Client     *http.Client
	MaxRetries uint64
	Log        *logrus.Entry
}

func NewHTTPFetcher(log *logrus.Entry) *HTTPFetcher {
	return &HTTPFetcher{
		Client:     &http.Client{Timeout: 5 * time.Minute},
		MaxRetries: 3,
		Log:        log,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url, dst string) (int64, error) {
	var n int64
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}
		out, err := os.Create(dst)
		if err != nil {
			return backoff.Permanent(err)
		}
		n, err = io.Copy(out, resp.Body)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		if f.Log != nil {
			f.Log.WithError(err).WithField("retry_in", wait.String()).Warn("download failed, retrying")
		}
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	return n, nil
}
