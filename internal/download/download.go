package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultTimeout      = 300 * time.Second
	DefaultMaxRedirects = 5

	chunkSize    = 1 << 20
	progressStep = 10
)

type Logger interface {
	Infof(format string, args ...interface{})
}

// Error is a terminal download failure. Exactly one of StatusCode, Timeout
// or TooManyRedirects describes the cause, otherwise Err does.
type Error struct {
	URL              string
	StatusCode       int
	Timeout          bool
	TooManyRedirects bool
	Err              error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Timeout:
		return fmt.Sprintf("download %s: timed out", e.URL)
	case e.TooManyRedirects:
		return fmt.Sprintf("download %s: stopped after too many redirects", e.URL)
	default:
		return fmt.Sprintf("download %s: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Downloader struct {
	client       *http.Client
	token        string
	tokenHost    string
	timeout      time.Duration
	maxRedirects int
}

type Option func(*Downloader)

func WithTimeout(d time.Duration) Option {
	return func(dl *Downloader) { dl.timeout = d }
}

func WithMaxRedirects(n int) Option {
	return func(dl *Downloader) { dl.maxRedirects = n }
}

// WithBearer sends token as a bearer credential, but only to requests whose
// host is host.
func WithBearer(token, host string) Option {
	return func(dl *Downloader) {
		dl.token = token
		dl.tokenHost = host
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(dl *Downloader) { dl.client = c }
}

func New(opts ...Option) *Downloader {
	dl := &Downloader{
		client:       &http.Client{},
		timeout:      DefaultTimeout,
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(dl)
	}

	// Redirects are followed by hand so the hop count is ours to bound.
	c := *dl.client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	dl.client = &c
	return dl
}

// Download fetches rawURL into dest. The body is streamed into dest+".part"
// and renamed into place only after the last byte is written, so dest never
// holds a truncated file. Cancelling ctx aborts the transfer between chunks.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string, log Logger) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, finalURL, err := d.follow(ctx, rawURL, log)
	if err != nil {
		return d.classify(ctx, rawURL, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &Error{URL: finalURL, Err: fmt.Errorf("create directory: %w", err)}
	}

	part := dest + ".part"
	written, err := d.copy(ctx, resp, part, log)
	if err != nil {
		os.Remove(part)
		return d.classify(ctx, finalURL, err)
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return &Error{URL: finalURL, Err: fmt.Errorf("finalize file: %w", err)}
	}

	log.Infof("downloaded %s (%d bytes)", filepath.Base(dest), written)
	return nil
}

func (d *Downloader) follow(ctx context.Context, rawURL string, log Logger) (*http.Response, string, error) {
	current := rawURL
	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, current, err
		}
		if d.token != "" && req.URL.Hostname() == d.tokenHost {
			req.Header.Set("Authorization", "Bearer "+d.token)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, current, err
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return resp, current, nil
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		default:
			resp.Body.Close()
			return nil, current, &Error{URL: current, StatusCode: resp.StatusCode}
		}

		location := resp.Header.Get("Location")
		resp.Body.Close()
		if hop >= d.maxRedirects {
			return nil, current, &Error{URL: rawURL, TooManyRedirects: true}
		}
		next, err := resolve(current, location)
		if err != nil {
			return nil, current, err
		}
		log.Infof("redirected to %s", next)
		current = next
	}
}

func resolve(base, location string) (string, error) {
	if location == "" {
		return "", errors.New("redirect without Location header")
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("bad redirect location %q: %w", location, err)
	}
	return b.ResolveReference(l).String(), nil
}

func (d *Downloader) copy(ctx context.Context, resp *http.Response, path string, log Logger) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	total := resp.ContentLength
	buf := make([]byte, chunkSize)
	var written int64
	lastStep := 0

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write file: %w", err)
			}
			written += int64(n)

			if total > 0 {
				pct := int(written * 100 / total)
				if step := pct / progressStep; step > lastStep {
					lastStep = step
					log.Infof("download progress %d%% (%d/%d bytes)", step*progressStep, written, total)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, rerr
		}
	}

	if total > 0 && written != total {
		return written, io.ErrUnexpectedEOF
	}
	return written, f.Sync()
}

func (d *Downloader) classify(ctx context.Context, u string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	// Caller cancellation is passed through untouched so stages can tell it
	// apart from a failure.
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{URL: u, Timeout: true, Err: err}
	}
	return &Error{URL: u, Err: err}
}
