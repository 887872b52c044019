// Package httpx wraps an http.RoundTripper so that outbound requests to
// a given URL prefix are gated by a rate limiter before the underlying
// transport ever sees them.
package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/ratelimit"
)

// ErrWouldBlock is the transport-level error a GatedTransport returns
// when its gate's Acquire would otherwise have to wait and the gate is
// in non-blocking mode. Callers treat it the same way regardless of
// which limiter produced it.
var ErrWouldBlock = errors.New("httpx: request would block on rate limit")

// Gate is satisfied by *ratelimit.WindowLimiter and
// *ratelimit.LeakyBucketLimiter.
type Gate interface {
	Acquire(ctx context.Context) error
}

type gateRule struct {
	prefix string
	gate   Gate
}

// GatedTransport is an http.RoundTripper that consults a list of
// (URL prefix, gate) rules in order and, on the first match, acquires
// the gate before delegating to Upstream.
type GatedTransport struct {
	Upstream http.RoundTripper
	rules    []gateRule
}

// NewGatedTransport builds a transport with no rules; use Gate to add
// them. If Upstream is nil, http.DefaultTransport is used.
func NewGatedTransport(upstream http.RoundTripper) *GatedTransport {
	if upstream == nil {
		upstream = http.DefaultTransport
	}
	return &GatedTransport{Upstream: upstream}
}

// Gate registers gate to be acquired before any request whose URL has
// the given prefix. Rules are tried in the order they are added.
func (t *GatedTransport) Gate(prefix string, gate Gate) *GatedTransport {
	t.rules = append(t.rules, gateRule{prefix: prefix, gate: gate})
	return t
}

func (t *GatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	for _, rule := range t.rules {
		if !strings.HasPrefix(url, rule.prefix) {
			continue
		}
		if err := rule.gate.Acquire(req.Context()); err != nil {
			var wb *ratelimit.WouldBlock
			if errors.As(err, &wb) {
				return nil, ErrWouldBlock
			}
			return nil, err
		}
		break
	}
	return t.Upstream.RoundTrip(req)
}
