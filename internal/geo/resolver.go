// Package geo resolves request IPs to coarse location labels for session
// listings. Lookups run under a hard timeout and fail open to "unknown":
// a slow or dead geolocation backend must never block a login.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Unknown is the label recorded when resolution is impossible or times out.
const Unknown = "unknown"

// HTTPResolver queries a JSON geolocation endpoint
// (GET <baseURL>/<ip> → {"city": ..., "country": ...}).
type HTTPResolver struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

// NewHTTPResolver describes the newhttpresolver operation and its observable behavior.
func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

// Resolve maps an IP to "City, Country". Private and malformed IPs, backend
// errors, and timeouts all return [Unknown] with a nil error: the caller
// records the label and moves on.
func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return Unknown, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return Unknown, nil
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Unknown, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unknown, nil
	}

	var body struct {
		City    string `json:"city"`
		Country string `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Unknown, nil
	}

	switch {
	case body.City != "" && body.Country != "":
		return fmt.Sprintf("%s, %s", body.City, body.Country), nil
	case body.Country != "":
		return body.Country, nil
	default:
		return Unknown, nil
	}
}
