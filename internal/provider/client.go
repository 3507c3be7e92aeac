package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds every outbound provider call.
const DefaultRequestTimeout = 30 * time.Second

// HTTPClient performs the outbound HTTP calls on behalf of adapters. Proxy
// support is a transport concern: a client built with a proxy URL routes
// everything through it, transparently to the adapter contract.
type HTTPClient struct {
	hc *http.Client
}

// NewHTTPClient creates a client with a bounded timeout. proxyURL may be
// empty; when set, all requests go through that forward proxy.
func NewHTTPClient(timeout time.Duration, proxyURL string) (*HTTPClient, error) {
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	transport := http.DefaultTransport
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL: %w", err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}

	return &HTTPClient{
		hc: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// Get performs a GET request with query parameters and returns the body.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (string, error) {
	if len(params) > 0 {
		if strings.Contains(rawURL, "?") {
			rawURL += "&" + params.Encode()
		} else {
			rawURL += "?" + params.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

// PostForm performs a POST request with a form-urlencoded body and returns
// the response body.
func (c *HTTPClient) PostForm(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(params.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) (string, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	return string(body), nil
}
