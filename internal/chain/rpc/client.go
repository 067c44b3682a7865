// Package rpc provides a minimal JSON-RPC 2.0 client for chain nodes,
// including the local development node introspection calls used to
// detect the mock encrypted-computation backend.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/craftclass/jury/internal/chain"
	"github.com/craftclass/jury/internal/metrics"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

var (
	// ErrRPCRequest indicates an RPC request failed at the transport level.
	ErrRPCRequest = &juryerr.JuryError{
		Code:     "RPC_REQUEST_FAILED",
		Message:  "RPC request failed",
		ExitCode: juryerr.ExitGeneral,
	}

	// ErrRPCResponse indicates an invalid RPC response.
	ErrRPCResponse = &juryerr.JuryError{
		Code:     "RPC_INVALID_RESPONSE",
		Message:  "invalid RPC response",
		ExitCode: juryerr.ExitGeneral,
	}

	// ErrNilResponse indicates a null result where a value was required.
	ErrNilResponse = &juryerr.JuryError{
		Code:     "RPC_NIL_RESPONSE",
		Message:  "nil RPC response",
		ExitCode: juryerr.ExitGeneral,
	}
)

// nonIdempotent lists methods that must never be retried automatically.
//
//nolint:gochecknoglobals // read-only lookup table
var nonIdempotent = map[string]bool{
	"eth_sendTransaction":        true,
	"eth_requestAccounts":        true,
	"eth_signTypedData_v4":       true,
	"personal_sign":              true,
	"wallet_switchEthereumChain": true,
}

// Error is a JSON-RPC error object returned by the node.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Client is a minimal JSON-RPC client.
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *chain.RateLimiter
	retry      chain.RetryConfig
	metrics    *metrics.Metrics
	idCounter  atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimiter throttles requests through a shared limiter.
func WithRateLimiter(rl *chain.RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

// WithRetry sets the retry policy for idempotent calls.
func WithRetry(cfg chain.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithMetrics records call counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a new RPC client.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      chain.RetryConfig{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the node endpoint.
func (c *Client) URL() string {
	return c.url
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error,omitempty"`
}

// Call performs a JSON-RPC call. Idempotent methods are retried on
// transport failures, rate limiting and 5xx responses.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	cfg := c.retry
	if nonIdempotent[method] {
		cfg.MaxAttempts = 1
	}

	start := time.Now()
	result, err := chain.RetryWithConfig(ctx, cfg, func(ctx context.Context) (json.RawMessage, error) {
		return c.do(ctx, method, params)
	})
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, time.Since(start), err)
	}
	return result, err
}

func (c *Client) do(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.url); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.idCounter.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, chain.WrapRetryable(juryerr.WithCause(ErrRPCRequest, err))
	}
	defer func() { _ = httpResp.Body.Close() }()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		if wait := chain.ParseRetryAfter(httpResp.Header.Get("Retry-After")); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		return nil, chain.ErrRateLimited
	case httpResp.StatusCode >= http.StatusInternalServerError:
		return nil, chain.WrapRetryable(juryerr.WithDetails(ErrRPCRequest, map[string]string{"status": httpResp.Status}))
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var resp response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, juryerr.WithCause(ErrRPCResponse, err)
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp.Result, nil
}

// CallResult performs a call and decodes the result into out.
func (c *Client) CallResult(ctx context.Context, out any, method string, params ...any) error {
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	if isNull(raw) {
		return juryerr.WithDetails(ErrNilResponse, map[string]string{"method": method})
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return juryerr.WithDetails(juryerr.WithCause(ErrRPCResponse, err), map[string]string{"method": method})
	}
	return nil
}

// IsRPCError reports whether err carries a node error with the given code.
func IsRPCError(err error, code int) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Code == code
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
