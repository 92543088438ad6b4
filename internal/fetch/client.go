// Package fetch retrieves media bytes by URL. Result URLs from the remote
// inference platform are opaque byte sources; local files and file:// URLs
// are only read when the client allows them.
package fetch

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

// ErrLocalSource rejects a local path or file:// URL on a remote-only client.
var ErrLocalSource = errors.New("local sources are not allowed")

// Client downloads media sources.
type Client struct {
	http    *http.Client
	workDir string // temp files for Download
	local   bool
}

// NewClient creates a remote-only fetch client. A zero timeout means no
// client-side limit.
func NewClient(timeout time.Duration, workDir string) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		workDir: workDir,
	}
}

// AllowLocal lets the client read bare paths and file:// URLs. Only
// trusted callers such as the CLI should turn this on.
func (c *Client) AllowLocal() *Client {
	c.local = true
	return c
}

// CheckRemote reports whether rawURL is an absolute http(s) URL.
func CheckRemote(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q: only http and https sources are accepted", rawURL)
	}
	return nil
}

// Error reports a source that could not be retrieved.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetch returns the full body behind rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if path, ok := localPath(rawURL); ok {
		if !c.local {
			return nil, &Error{URL: rawURL, Err: ErrLocalSource}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{URL: rawURL, Err: err}
		}
		return data, nil
	}

	body, err := c.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}

// Download makes rawURL available as a local file. Remote sources are
// written to a temp file; cleanup removes it and must be called on every
// path. Local sources are returned as-is with a no-op cleanup.
func (c *Client) Download(ctx context.Context, rawURL string) (path string, cleanup func(), err error) {
	if p, ok := localPath(rawURL); ok {
		if !c.local {
			return "", func() {}, &Error{URL: rawURL, Err: ErrLocalSource}
		}
		if _, err := os.Stat(p); err != nil {
			return "", func() {}, &Error{URL: rawURL, Err: err}
		}
		return p, func() {}, nil
	}

	body, err := c.open(ctx, rawURL)
	if err != nil {
		return "", func() {}, err
	}
	defer body.Close()

	tmpFile, err := os.CreateTemp(c.workDir, "studio-src-*"+extOf(rawURL))
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	cleanup = func() { os.Remove(tmpFile.Name()) }

	if _, err := io.Copy(tmpFile, body); err != nil {
		tmpFile.Close()
		cleanup()
		return "", func() {}, &Error{URL: rawURL, Err: fmt.Errorf("write body: %w", err)}
	}
	if err := tmpFile.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp file: %w", err)
	}
	return tmpFile.Name(), cleanup, nil
}

func (c *Client) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return resp.Body, nil
}

// localPath resolves file:// URLs and bare paths.
func localPath(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, true
	}
	switch u.Scheme {
	case "http", "https":
		return "", false
	case "file":
		return u.Path, true
	case "":
		return rawURL, true
	}
	// Windows drive letters parse as a one-letter scheme.
	if len(u.Scheme) == 1 {
		return rawURL, true
	}
	return "", false
}

func extOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := filepath.Ext(u.Path)
	if len(ext) > 8 {
		return ""
	}
	return ext
}
