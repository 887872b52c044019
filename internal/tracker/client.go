// Package tracker implements the JSON-RPC client for the tracker's API:
// envelope construction, typed error mapping, and the rate-limited
// wrapper that ties call-limit-exceeded replies back into the quota
// limiter (internal/ratelimit).
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/metrics"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/ratelimit"
)

const defaultEndpoint = "https://api.broadcasthe.net/"

var tracer = otel.Tracer("github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker")

// TransportError wraps a non-2xx HTTP response or a request-level
// transport failure from the tracker API endpoint.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tracker api: http %d", e.StatusCode)
	}
	return fmt.Sprintf("tracker api: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client performs unauthenticated-by-quota JSON-RPC calls against the
// tracker API. Most callers want RateLimitedClient instead.
type Client struct {
	Key        string
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient builds a Client. If httpClient is nil, http.DefaultClient is
// used; callers that need outbound gating should pass one built around
// httpx.GatedTransport instead.
func NewClient(key string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		Key:        key,
		Endpoint:   defaultEndpoint,
		HTTPClient: httpClient,
		Timeout:    60 * time.Second,
	}
}

func (c *Client) call(ctx context.Context, method string, params ...interface{}) (result json.RawMessage, err error) {
	ctx, span := tracer.Start(ctx, "tracker."+method)
	defer span.End()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if isCallLimitExceeded(err) {
				outcome = "call_limit_exceeded"
			}
		}
		metrics.RPCCallsTotal.WithLabelValues(method, outcome).Inc()
	}()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  append([]interface{}{c.Key}, params...),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("tracker api: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tracker api: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{StatusCode: resp.StatusCode}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("tracker api: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, newAPIError(rpcResp.Error.Message, ErrorCode(rpcResp.Error.Code))
	}
	return rpcResp.Result, nil
}

// GetTorrents calls the getTorrents method. filters is an object of
// (possibly empty) equality predicates; pass nil or an empty map for an
// unfiltered sweep.
func (c *Client) GetTorrents(ctx context.Context, results, offset int, filters map[string]string) (*GetTorrentsResult, error) {
	if filters == nil {
		filters = map[string]string{}
	}
	raw, err := c.call(ctx, "getTorrents", filters, results, offset)
	if err != nil {
		return nil, err
	}
	var result GetTorrentsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tracker api: decode getTorrents result: %w", err)
	}
	return &result, nil
}

// GetUserSnatchlist calls the getUserSnatchlist method.
func (c *Client) GetUserSnatchlist(ctx context.Context, results, offset int) (*GetUserSnatchlistResult, error) {
	raw, err := c.call(ctx, "getUserSnatchlist", results, offset)
	if err != nil {
		return nil, err
	}
	var result GetUserSnatchlistResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tracker api: decode getUserSnatchlist result: %w", err)
	}
	return &result, nil
}

// RateLimitedClient wraps Client with the API-quota limiter: every call
// acquires the limiter first, and a CallLimitExceededError additionally
// slams the limiter's remaining count to zero so subsequent callers wait
// for the oldest passage in the window to expire instead of retrying
// immediately.
type RateLimitedClient struct {
	*Client
	limiter *ratelimit.WindowLimiter
}

// NewRateLimitedClient builds a RateLimitedClient gated by limiter.
func NewRateLimitedClient(key string, limiter *ratelimit.WindowLimiter, httpClient *http.Client) *RateLimitedClient {
	return &RateLimitedClient{
		Client:  NewClient(key, httpClient),
		limiter: limiter,
	}
}

// GetRateLimiter returns the limiter gating this client, so a daemon's
// terminate() hook can flip it to non-blocking.
func (c *RateLimitedClient) GetRateLimiter() *ratelimit.WindowLimiter {
	return c.limiter
}

func (c *RateLimitedClient) GetTorrents(ctx context.Context, results, offset int, filters map[string]string) (*GetTorrentsResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	result, err := c.Client.GetTorrents(ctx, results, offset, filters)
	if isCallLimitExceeded(err) {
		c.limiter.SetRemaining(0)
	}
	return result, err
}

func (c *RateLimitedClient) GetUserSnatchlist(ctx context.Context, results, offset int) (*GetUserSnatchlistResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	result, err := c.Client.GetUserSnatchlist(ctx, results, offset)
	if isCallLimitExceeded(err) {
		c.limiter.SetRemaining(0)
	}
	return result, err
}

func isCallLimitExceeded(err error) bool {
	_, ok := err.(*CallLimitExceededError)
	return ok
}
