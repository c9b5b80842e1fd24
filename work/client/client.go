package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jakedarc/barbarian-ultimate/work/config"
	"github.com/jakedarc/barbarian-ultimate/work/metrics"

	"go.uber.org/ratelimit"
)

// Sentinel errors forming the upstream failure taxonomy. Components wrap
// these with %w; the HTTP layer maps them to status codes with errors.Is.
// No raw transport error crosses a component boundary.
var (
	// ErrUpstreamNotFound means the origin answered with a non-2xx status.
	ErrUpstreamNotFound = errors.New("upstream resource not found")
	// ErrUpstreamTransport means the origin could not be reached or timed out.
	ErrUpstreamTransport = errors.New("upstream transport failure")
)

// UpstreamClient wraps http.Client for requests against the fixed archive
// origin. It injects the configured headers, rate-limits outbound calls,
// and converts failures into the sentinel taxonomy above.
type UpstreamClient struct {
	Client  *http.Client
	config  *config.Config
	limiter ratelimit.Limiter
}

// New builds an UpstreamClient. The overall client timeout is left at zero
// so container bodies can stream for as long as the client keeps reading;
// ResponseHeaderTimeout bounds the wait for upstream to start answering.
// Calls that buffer whole bodies (GetText, GetJSON) apply the configured
// per-request timeout through their context instead.
func New(cfg *config.Config) *UpstreamClient {
	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamTimeout,
		},
	}

	return &UpstreamClient{
		Client:  client,
		config:  cfg,
		limiter: ratelimit.New(cfg.UpstreamRateLimit),
	}
}

// Do applies headers and the rate limit, then executes the request.
func (uc *UpstreamClient) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", uc.config.UserAgent)
	req.Header.Set("Accept", "*/*")
	uc.limiter.Take()
	return uc.Client.Do(req)
}

// Get issues a GET and returns the response only when upstream answered
// 2xx. Non-2xx responses are drained, closed and reported as
// ErrUpstreamNotFound; network failures as ErrUpstreamTransport.
// The caller owns resp.Body on success.
func (uc *UpstreamClient) Get(ctx context.Context, url string) (*http.Response, error) {
	return uc.Fetch(ctx, http.MethodGet, url, "")
}

// GetRange is Get with an optional Range header forwarded verbatim.
// A 206 Partial Content answer is a success.
func (uc *UpstreamClient) GetRange(ctx context.Context, url, rangeHeader string) (*http.Response, error) {
	return uc.Fetch(ctx, http.MethodGet, url, rangeHeader)
}

// Fetch is GetRange with the request method chosen by the caller, so HEAD
// probes can pass through without pulling a body.
func (uc *UpstreamClient) Fetch(ctx context.Context, method, url, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransport, err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := uc.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransport, err)
	}

	metrics.UpstreamRequests.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d for %s", ErrUpstreamNotFound, resp.StatusCode, url)
	}

	return resp, nil
}

// GetText fetches a resource and returns its body as a string. The whole
// body is read within the configured upstream timeout.
func (uc *UpstreamClient) GetText(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.config.UpstreamTimeout)
	defer cancel()

	resp, err := uc.Get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", ErrUpstreamTransport, err)
	}
	return string(body), nil
}

// GetJSON fetches a resource and decodes its JSON body into v.
func (uc *UpstreamClient) GetJSON(ctx context.Context, url string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, uc.config.UpstreamTimeout)
	defer cancel()

	resp, err := uc.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %v", ErrUpstreamTransport, err)
	}
	return nil
}
