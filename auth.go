package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// authPayload is the client-supplied portion of a subscribe request for
// a private channel. Its headers override the cookie-derived headers on
// the outbound auth request where keys collide.
type authPayload struct {
	Headers map[string]string `json:"headers"`
}

// authError is the failure taxonomy of the gateway: Status 0 means the
// request never completed (network, DNS, timeout); any other value is
// the auth endpoint's non-200 response code. Not retried.
type authError struct {
	Reason string
	Status int
}

func (e *authError) Error() string {
	return fmt.Sprintf("auth: %s (status %d)", e.Reason, e.Status)
}

// authResult is an accepted authorization. body holds the decoded JSON
// object when the endpoint returned one; raw holds the verbatim body
// otherwise (plain-string auth responses are permitted).
type authResult struct {
	body map[string]json.RawMessage
	raw  []byte
}

// channelData returns the presence member payload attached to the
// acceptance, if any.
func (r *authResult) channelData() []byte {
	if r.body == nil {
		return nil
	}
	data, ok := r.body["channel_data"]
	if !ok {
		return nil
	}
	return data
}

// authGateway authorizes private and presence subscriptions by
// delegating to the application's auth endpoint with exactly one
// form-encoded POST per request.
type authGateway struct {
	client   *http.Client
	hosts    []string
	endpoint string
}

func newAuthGateway(cfg *config) *authGateway {
	return &authGateway{
		client:   &http.Client{Timeout: cfg.authTimeout()},
		hosts:    cfg.AuthHosts,
		endpoint: cfg.AuthEndpoint,
	}
}

func (g *authGateway) authenticate(c *connection, channel string, auth *authPayload) (*authResult, error) {
	endpoint := g.authHost(c) + g.endpoint
	form := url.Values{"channel_name": {channel}}

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &authError{Reason: "error sending authentication request", Status: 0}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	g.prepareHeaders(req, c, auth)

	logDebug("auth request", zap.String("socket", c.id),
		zap.String("channel", channel), zap.String("url", endpoint))

	resp, err := g.client.Do(req)
	if err != nil {
		logWarn("auth request failed", zap.String("socket", c.id),
			zap.String("channel", channel), zap.Error(err))
		return nil, &authError{Reason: "error sending authentication request", Status: 0}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &authError{Reason: "error reading authentication response", Status: 0}
	}

	if resp.StatusCode != http.StatusOK {
		logWarn("auth rejected", zap.String("socket", c.id),
			zap.String("channel", channel), zap.Int("status", resp.StatusCode))
		return nil, &authError{
			Reason: fmt.Sprintf("client could not be authenticated, got HTTP status %d", resp.StatusCode),
			Status: resp.StatusCode,
		}
	}

	result := &authResult{}
	if err := json.Unmarshal(body, &result.body); err != nil {
		// Plain-string acceptance: pass the raw body through.
		result.body = nil
		result.raw = body
	}
	return result, nil
}

// prepareHeaders forges the browser-style headers the application
// expects, then layers any client-supplied auth headers on top.
func (g *authGateway) prepareHeaders(req *http.Request, c *connection, auth *authPayload) {
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Socket-Id", c.id)
	if auth != nil {
		for k, v := range auth.Headers {
			req.Header.Set(k, v)
		}
	}
}

// authHost picks the host to authenticate against. The first configured
// host whose value matches the connection's referrer wins, and the
// referrer's own scheme and host are used; otherwise the first
// configured host, or a local default.
func (g *authGateway) authHost(c *connection) string {
	selected := defaultAuthHost
	if len(g.hosts) > 0 {
		selected = g.hosts[0]
	}

	if c.referer == "" {
		return selected
	}
	referer, err := url.Parse(c.referer)
	if err != nil || referer.Host == "" {
		return selected
	}

	for _, host := range g.hosts {
		if hasMatchingHost(referer, host) {
			return fmt.Sprintf("%s://%s", referer.Scheme, referer.Host)
		}
	}
	return selected
}

func hasMatchingHost(referer *url.URL, host string) bool {
	hostname := referer.Hostname()
	if i := strings.Index(hostname, "."); i >= 0 {
		if hostname[i:] == host {
			return true
		}
	}
	if fmt.Sprintf("%s://%s", referer.Scheme, referer.Host) == host {
		return true
	}
	return referer.Host == host
}
