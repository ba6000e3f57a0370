// Package sidecar is the HTTP client for the transaction-signing sidecar
// that actually touches the Solana chain: this service asks it to read
// balances and submit transfers/deposits/withdrawals, but never holds chain
// RPC credentials or signs transactions itself ("the sidecar's own
// cryptography" is explicitly out of scope here).
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vaultauth/core/infrastructure/httputil"
	"github.com/vaultauth/core/infrastructure/logging"
	"github.com/vaultauth/core/infrastructure/resilience"
	"github.com/vaultauth/core/infrastructure/security"
)

const (
	serviceIDHeader     = "X-Service-ID"
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 1 << 20 // 1MiB
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	ServiceID    string
	HTTPClient   *http.Client
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Client calls the sidecar's HTTP API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	serviceID    string
	maxBodyBytes int64
	logger       *logging.Logger
	breaker      *resilience.CircuitBreaker
}

// New constructs a Client from cfg, applying the repository's standard
// timeout/body-size defaults when unset.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	client, baseURL, err := httputil.NewClientWithBaseURL(httputil.ClientConfig{
		BaseURL:    cfg.BaseURL,
		ServiceID:  cfg.ServiceID,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
	}, httputil.ClientDefaults{
		Timeout:          defaultTimeout,
		MaxBodyBytes:     defaultMaxBodyBytes,
		NormalizeBaseURL: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sidecar: %w", err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient:   client,
		baseURL:      baseURL,
		serviceID:    httputil.ResolveServiceID(cfg.ServiceID),
		maxBodyBytes: httputil.ResolveMaxBodyBytes(cfg.MaxBodyBytes, defaultMaxBodyBytes),
		logger:       logger,
		breaker:      resilience.New(resilience.DefaultServiceCBConfig(logger)),
	}, nil
}

// do sends a JSON request to path and decodes a JSON response into out,
// classifying failures into NetworkTimeout/SidecarRejected/SidecarInternal.
// The round trip runs behind a circuit breaker so a wedged sidecar fails
// fast instead of piling up timed-out callers, and the transport step
// retries transient network errors with backoff.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	return c.breaker.Execute(ctx, func() error {
		return c.attempt(ctx, method, path, in, out)
	})
}

func (c *Client) attempt(ctx context.Context, method, path string, in, out interface{}) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("sidecar: encode request: %w", err)
		}
	}
	bodyBytes := body.Bytes()

	var resp *http.Response
	retryErr := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("sidecar: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.serviceID != "" {
			req.Header.Set(serviceIDHeader, c.serviceID)
		}

		r, doErr := c.httpClient.Do(req)
		if doErr != nil {
			resp = nil
			return doErr
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		var netErr net.Error
		if ctx.Err() != nil || (asNetError(retryErr, &netErr) && netErr.Timeout()) {
			return NewNetworkTimeout(path, retryErr)
		}
		return NewNetworkTimeout(path, retryErr)
	}
	defer resp.Body.Close()

	raw, err := httputil.ReadAllStrict(resp.Body, c.maxBodyBytes)
	if err != nil {
		callErr := NewSidecarInternal(path, fmt.Errorf("read response: %w", err))
		c.logger.LogSidecarCall(ctx, requestIDOf(resp), path, callErr)
		return callErr
	}

	// The sidecar's own error bodies are free text from another service; scrub
	// them for anything that looks like a credential before it lands in a
	// wrapped error that ultimately reaches the log.
	safeBody := security.SanitizeString(string(raw))

	var callErr error
	switch {
	case resp.StatusCode >= 500:
		callErr = NewSidecarInternal(path, fmt.Errorf("status %d: %s", resp.StatusCode, safeBody))
	case resp.StatusCode >= 400:
		callErr = NewSidecarRejected(path, fmt.Errorf("status %d: %s", resp.StatusCode, safeBody))
	case out != nil && len(raw) > 0:
		if err := json.Unmarshal(raw, out); err != nil {
			callErr = NewSidecarInternal(path, fmt.Errorf("decode response: %w", err))
		}
	}

	c.logger.LogSidecarCall(ctx, requestIDOf(resp), path, callErr)
	return callErr
}

func requestIDOf(resp *http.Response) string {
	return resp.Header.Get("X-Request-ID")
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}
