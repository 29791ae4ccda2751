package openrouter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bournemouth-hq/relay/internal/upstream"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		APIKey:  "sk-or-test-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func chatRequest(model string) *ChatCompletionRequest {
	return &ChatCompletionRequest{
		Model:    model,
		Messages: []ChatMessage{TextMessage(RoleUser, "hello")},
	}
}

func TestCompleteSuccess(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		Body: upstream.Completion("hi there", "test-model"),
	})

	client := newTestClient(t, server.URL())
	resp, err := client.Complete(context.Background(), chatRequest("test-model"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(resp.Choices))
	}
	if got := resp.Choices[0].Message.Content; got != "hi there" {
		t.Errorf("content = %q, want %q", got, "hi there")
	}
	if auth := server.LastAuthorization(); auth != "Bearer sk-or-test-key" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestCompleteRequiresOpen(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "sk-or-test-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.Complete(context.Background(), chatRequest("m"))
	if !errors.Is(err, ErrClientNotInitialized) {
		t.Fatalf("before Open: err = %v, want ErrClientNotInitialized", err)
	}

	if err := client.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = client.Complete(context.Background(), chatRequest("m"))
	if !errors.Is(err, ErrClientNotInitialized) {
		t.Fatalf("after Close: err = %v, want ErrClientNotInitialized", err)
	}
}

func TestCompleteStatusMapping(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	client := newTestClient(t, server.URL())

	tests := []struct {
		status int
		check  func(err error) bool
	}{
		{401, func(err error) bool { var e *AuthenticationError; return errors.As(err, &e) }},
		{402, func(err error) bool { var e *InsufficientCreditsError; return errors.As(err, &e) }},
		{429, func(err error) bool { var e *RateLimitError; return errors.As(err, &e) }},
		{500, func(err error) bool { var e *ServerError; return errors.As(err, &e) }},
	}
	for _, tt := range tests {
		server.SetCompletion(upstream.ErrorResponse(tt.status, "nope"))
		_, err := client.Complete(context.Background(), chatRequest("m"))
		if err == nil || !tt.check(err) {
			t.Errorf("status %d: unexpected error %v", tt.status, err)
		}
		var base *APIError
		if !errors.As(err, &base) || base.Details == nil || base.Details.Message != "nope" {
			t.Errorf("status %d: details not preserved: %v", tt.status, err)
		}
	}
}

func TestCompleteMalformedErrorBody(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{StatusCode: 502, Body: "bad gateway"})

	client := newTestClient(t, server.URL())
	_, err := client.Complete(context.Background(), chatRequest("m"))
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("err = %v, want ServerError", err)
	}
	if serverErr.Details != nil {
		t.Errorf("Details = %+v, want nil for undecodable body", serverErr.Details)
	}
}

func TestCompleteDecodeError(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{StatusCode: 200, Body: "{not json"})

	client := newTestClient(t, server.URL())
	_, err := client.Complete(context.Background(), chatRequest("m"))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
	if !strings.Contains(decodeErr.RawResponse, "{not json") {
		t.Errorf("RawResponse = %q, want raw payload", decodeErr.RawResponse)
	}
}

func TestCompleteTimeout(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		Body:  upstream.Completion("late", "m"),
		Delay: 200 * time.Millisecond,
	})

	client, err := NewClient(ClientConfig{
		APIKey:  "sk-or-test-key",
		BaseURL: server.URL(),
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	_, err = client.Complete(context.Background(), chatRequest("m"))
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}

func TestCompleteNetworkError(t *testing.T) {
	server := upstream.NewMockServer()
	url := server.URL()
	server.Close()

	client := newTestClient(t, url)
	_, err := client.Complete(context.Background(), chatRequest("m"))
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}

func TestCompleteInvalidMessage(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	client := newTestClient(t, server.URL())

	req := &ChatCompletionRequest{
		Model:    "m",
		Messages: []ChatMessage{TextMessage("narrator", "hi")},
	}
	_, err := client.Complete(context.Background(), req)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want RequestError", err)
	}
	if server.RequestCount() != 0 {
		t.Error("invalid request must not reach the network")
	}
}

func TestStreamDeliversChunks(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		StreamChunks: []string{upstream.StreamChunk("hi", "")},
	})

	client := newTestClient(t, server.URL())
	stream, err := client.Stream(context.Background(), chatRequest("m"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if chunk.Choices[0].Delta.Content != "hi" {
		t.Errorf("delta = %q", chunk.Choices[0].Delta.Content)
	}
}
