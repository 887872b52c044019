package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/ratelimit"
)

func newTestServer(t *testing.T, handler func(method string) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, rpcErr := handler(req.Method)
		resp := map[string]interface{}{"id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_GetTorrents_Success(t *testing.T) {
	srv := newTestServer(t, func(method string) (interface{}, *rpcError) {
		return GetTorrentsResult{
			Results: "1",
			Torrents: map[string]TorrentEntry{
				"123": {TorrentID: "123", SeriesID: "345", GroupID: "234"},
			},
		}, nil
	})
	defer srv.Close()

	c := NewClient("k", nil)
	c.Endpoint = srv.URL

	result, err := c.GetTorrents(context.Background(), 10, 0, nil)
	if err != nil {
		t.Fatalf("GetTorrents: %v", err)
	}
	if result.Results != "1" || len(result.Torrents) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClient_InvalidAPIKey(t *testing.T) {
	srv := newTestServer(t, func(method string) (interface{}, *rpcError) {
		return nil, &rpcError{Message: "Invalid API Key", Code: int(InvalidAPIKey)}
	})
	defer srv.Close()

	c := NewClient("bad", nil)
	c.Endpoint = srv.URL

	_, err := c.GetTorrents(context.Background(), 10, 0, nil)
	if _, ok := err.(*InvalidAPIKeyError); !ok {
		t.Fatalf("want *InvalidAPIKeyError, got %T: %v", err, err)
	}
}

func TestRateLimitedClient_CallLimitExceededSlamsLimiter(t *testing.T) {
	srv := newTestServer(t, func(method string) (interface{}, *rpcError) {
		return nil, &rpcError{Message: "Call Limit Exceeded", Code: int(CallLimitExceeded)}
	})
	defer srv.Close()

	limiter := ratelimit.NewWindowLimiter(150, time.Hour)
	c := NewRateLimitedClient("k", limiter, nil)
	c.Endpoint = srv.URL

	_, err := c.GetTorrents(context.Background(), 10, 0, nil)
	if _, ok := err.(*CallLimitExceededError); !ok {
		t.Fatalf("want *CallLimitExceededError, got %T: %v", err, err)
	}

	limiter.SetBlocking(false)
	if err := limiter.Acquire(context.Background()); err == nil {
		t.Fatal("want limiter slammed to 0 remaining, but acquire succeeded")
	}
}
