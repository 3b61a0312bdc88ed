package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var ErrSourceTooLarge = errors.New("audio: source exceeds size limit")

// FetchError describes a failed download of a caller-supplied audio source.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("audio: fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("audio: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads audio sources over http(s) with retries and a size cap.
type Fetcher struct {
	client   *retryablehttp.Client
	maxBytes int64
}

type FetcherOption func(*retryablehttp.Client)

func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(c *retryablehttp.Client) {
		if l != nil {
			c.Logger = l
		}
	}
}

func WithFetchRetry(max int, waitMin time.Duration) FetcherOption {
	return func(c *retryablehttp.Client) {
		c.RetryMax = max
		c.RetryWaitMin = waitMin
		if c.RetryWaitMax < waitMin {
			c.RetryWaitMax = waitMin
		}
	}
}

func NewFetcher(maxBytes int64, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.Logger = nil
	c.HTTPClient.Timeout = timeout
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	for _, o := range opts {
		o(c)
	}
	return &Fetcher{client: c, maxBytes: maxBytes}
}

// Fetch downloads src to destStem plus the source's extension and returns the written path.
func (f *Fetcher) Fetch(ctx context.Context, src, destStem string) (string, error) {
	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &FetchError{URL: src, Err: errors.New("unsupported audio source")}
	}
	redacted := u.Redacted()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", &FetchError{URL: redacted, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: redacted, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: redacted, Status: resp.StatusCode}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return "", &FetchError{URL: redacted, Err: ErrSourceTooLarge}
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 5 {
		ext = ".audio"
	}
	dest := destStem + ext

	if err := f.save(resp.Body, dest); err != nil {
		return "", &FetchError{URL: redacted, Err: err}
	}
	return dest, nil
}

func (f *Fetcher) save(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	limit := f.maxBytes
	if limit <= 0 {
		limit = 1 << 62
	}
	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n > limit {
		return ErrSourceTooLarge
	}
	if n == 0 {
		return errors.New("empty audio source")
	}
	return os.Rename(tmpName, dest)
}
