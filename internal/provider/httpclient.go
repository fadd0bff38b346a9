package provider

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

// GenerationTimeout bounds a single provider call end to end.
const GenerationTimeout = 60 * time.Second

// SharedHTTPClient returns an HTTP client with connection pooling sized for a
// single upstream API.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = GenerationTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

type errorBodyKey struct{}

// errorBody receives the raw body of a failed upstream response.
type errorBody struct {
	data []byte
}

func withErrorBody(ctx context.Context, eb *errorBody) context.Context {
	return context.WithValue(ctx, errorBodyKey{}, eb)
}

// errorBodyTransport copies non-2xx response bodies into the errorBody found
// in the request context, leaving the response readable for the SDK.
type errorBodyTransport struct {
	base http.RoundTripper
}

func (t *errorBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < 300 {
		return resp, err
	}
	eb, ok := req.Context().Value(errorBodyKey{}).(*errorBody)
	if !ok {
		return resp, nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	eb.data = data
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

// recordErrorBodies returns a copy of hc whose transport keeps failed bodies.
func recordErrorBodies(hc *http.Client) *http.Client {
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *hc
	wrapped.Transport = &errorBodyTransport{base: base}
	return &wrapped
}
