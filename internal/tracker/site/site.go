// Package site encapsulates authenticated URL building for the
// tracker's feed and torrent-file download endpoints. It performs no
// rate limiting itself — callers pass an *http.Client whose transport is
// already gated (see internal/httpx) for the broadcasthe.net prefixes.
package site

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://broadcasthe.net"

// UserAuth holds the session credentials needed to fetch feeds and
// torrent files. A zero value for any field means "missing"; GetFeed and
// GetTorrent validate the fields they need before issuing a request.
type UserAuth struct {
	UserID  int    `json:"user_id"`
	Auth    string `json:"auth"`
	AuthKey string `json:"authkey"`
	PassKey string `json:"passkey"`
	APIKey  string `json:"api_key"`
}

// ConfigError reports a missing auth field, raised before any network
// call is attempted.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("site: missing required auth field %q", e.Field)
}

// Client builds authenticated requests against the tracker's HTML
// surface (as opposed to internal/tracker's JSON-RPC API).
type Client struct {
	Auth       UserAuth
	HTTPClient *http.Client
	Timeout    time.Duration

	// BaseURL is the scheme+host every request is built against.
	// Defaults to the tracker's own site; tests override it to point
	// at an httptest server.
	BaseURL string
}

// NewClient builds a Client. If httpClient is nil, http.DefaultClient is
// used, which means no rate gating — production callers should always
// pass a client built around a gated transport.
func NewClient(auth UserAuth, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{Auth: auth, HTTPClient: httpClient, Timeout: 60 * time.Second, BaseURL: defaultBaseURL}
}

// GetFeed fetches the named feed (e.g. "torrents_all") from feeds.php.
func (c *Client) GetFeed(ctx context.Context, name string) (*http.Response, error) {
	if c.Auth.Auth == "" {
		return nil, &ConfigError{Field: "auth"}
	}
	if c.Auth.UserID == 0 {
		return nil, &ConfigError{Field: "user_id"}
	}
	if c.Auth.AuthKey == "" {
		return nil, &ConfigError{Field: "authkey"}
	}
	if c.Auth.PassKey == "" {
		return nil, &ConfigError{Field: "passkey"}
	}

	u, err := c.buildURL("/feeds.php", url.Values{
		"feed":    {name},
		"user":    {fmt.Sprint(c.Auth.UserID)},
		"auth":    {c.Auth.Auth},
		"passkey": {c.Auth.PassKey},
		"authkey": {c.Auth.AuthKey},
	})
	if err != nil {
		return nil, err
	}
	return c.doGet(ctx, u)
}

// GetTorrent fetches a torrent entry's metafile from torrents.php.
func (c *Client) GetTorrent(ctx context.Context, torrentEntryID int) (*http.Response, error) {
	if c.Auth.PassKey == "" {
		return nil, &ConfigError{Field: "passkey"}
	}

	u, err := c.buildURL("/torrents.php", url.Values{
		"action":       {"download"},
		"id":           {fmt.Sprint(torrentEntryID)},
		"torrent_pass": {c.Auth.PassKey},
	})
	if err != nil {
		return nil, err
	}
	return c.doGet(ctx, u)
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("site: parse base url %q: %w", base, err)
	}
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (c *Client) doGet(ctx context.Context, rawURL string) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if c.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// The caller reads resp.Body well after this function returns, so the
	// timeout's cancel can't be deferred here — it has to fire when the
	// body is closed instead, or every response would race its own
	// deadline against the caller's read.
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnCloseBody ties a context's lifetime to the response body that
// was read under it, so the timeout context from doGet is canceled only
// once the caller is done reading, not when doGet itself returns.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
