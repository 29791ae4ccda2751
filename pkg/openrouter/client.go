package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the OpenRouter API endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

const completionsPath = "/chat/completions"

// ClientConfig configures a Client.
type ClientConfig struct {
	// APIKey is the OpenRouter credential. Required. It is sent as a
	// bearer token and never logged.
	APIKey string

	// BaseURL is the API endpoint base URL.
	// Default: DefaultBaseURL
	BaseURL string

	// Timeout is the per-request timeout. Zero means no timeout.
	Timeout time.Duration

	// DefaultHeaders are sent with every request in addition to the
	// authorization and content-type headers.
	DefaultHeaders map[string]string

	// StrictDecoding rejects unknown fields in upstream payloads.
	// The default is lenient decoding for forward compatibility with
	// provider schema additions.
	StrictDecoding bool

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host.
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection is kept.
	IdleConnTimeout time.Duration

	// Transport overrides the HTTP transport, used by tests.
	Transport http.RoundTripper
}

// Client issues chat completion requests over a connection opened for
// one API key. Open must be called before any exchange; exchanges after
// Close fail with ErrClientNotInitialized.
//
// A Client is safe for concurrent use.
type Client struct {
	config ClientConfig

	mu         sync.RWMutex
	httpClient *http.Client
}

// NewClient creates a client for the given configuration. The client
// holds no connection until Open is called.
func NewClient(config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openrouter: API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 100
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = 10
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}
	return &Client{config: config}, nil
}

// Open establishes the underlying pooled HTTP connection state.
// Calling Open on an already-open client is a no-op.
func (c *Client) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.httpClient != nil {
		return nil
	}

	transport := c.config.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        c.config.MaxIdleConns,
			MaxIdleConnsPerHost: c.config.MaxIdleConnsPerHost,
			IdleConnTimeout:     c.config.IdleConnTimeout,
			ForceAttemptHTTP2:   true,
		}
	}

	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   c.config.Timeout,
	}
	return nil
}

// Close releases the underlying connection. Exchange calls after Close
// fail with ErrClientNotInitialized.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.httpClient == nil {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	c.httpClient = nil
	return nil
}

// client returns the open HTTP client or ErrClientNotInitialized.
func (c *Client) client() (*http.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.httpClient == nil {
		return nil, ErrClientNotInitialized
	}
	return c.httpClient, nil
}

// Complete sends a one-shot chat completion request.
//
// A one-shot call must not ask upstream for a stream, so a set Stream
// flag is cleared before sending rather than rejected.
func (c *Client) Complete(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	httpClient, err := c.client()
	if err != nil {
		return nil, err
	}

	send := *req
	send.Stream = false

	body, err := c.encodeRequest(&send)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, httpClient, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	var out ChatCompletionResponse
	if err := decodeJSON(data, &out, c.config.StrictDecoding); err != nil {
		return nil, &DecodeError{RawResponse: string(data), Cause: err}
	}
	return &out, nil
}

// Stream sends a streaming chat completion request and returns the
// chunk sequence. The sequence is finite and not restartable; issue a
// new call to stream again. The caller must Close the stream.
func (c *Client) Stream(ctx context.Context, req *ChatCompletionRequest) (*Stream, error) {
	httpClient, err := c.client()
	if err != nil {
		return nil, err
	}

	send := *req
	send.Stream = true

	body, err := c.encodeRequest(&send)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, httpClient, body, true)
	if err != nil {
		return nil, err
	}

	if err := c.checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return newStream(resp.Body, c.config.StrictDecoding), nil
}

// encodeRequest validates and serializes a request body. Failures are
// reported as RequestError before any network I/O.
func (c *Client) encodeRequest(req *ChatCompletionRequest) ([]byte, error) {
	if req.Model == "" {
		return nil, &RequestError{Cause: fmt.Errorf("model is required")}
	}
	if len(req.Messages) == 0 {
		return nil, &RequestError{Cause: fmt.Errorf("messages must not be empty")}
	}
	for i, msg := range req.Messages {
		if err := msg.Validate(); err != nil {
			return nil, &RequestError{Cause: fmt.Errorf("message %d: %w", i, err)}
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &RequestError{Cause: err}
	}
	return body, nil
}

// post performs the completions POST with the credential-derived
// authorization header.
func (c *Client) post(ctx context.Context, httpClient *http.Client, body []byte, streaming bool) (*http.Response, error) {
	url := c.config.BaseURL + completionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &RequestError{Cause: err}
	}

	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// checkStatus maps a failing upstream status to a typed error, reading
// the body for structured details. A malformed error body yields no
// details rather than failing.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	data, _ := io.ReadAll(resp.Body)
	return mapStatusError(resp.StatusCode, decodeErrorDetails(data))
}

// decodeErrorDetails decodes a structured error payload, best-effort.
func decodeErrorDetails(data []byte) *ErrorDetails {
	var envelope errorResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}
	if envelope.Error.Message == "" {
		return nil
	}
	return &envelope.Error
}

// decodeJSON decodes data into v, optionally rejecting unknown fields.
func decodeJSON(data []byte, v any, strict bool) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	return dec.Decode(v)
}

// classifyTransportError splits connection-level failures into timeout
// vs other network failure, both distinct from the status taxonomy.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Cause: err}
	}
	return &NetworkError{Cause: err}
}
