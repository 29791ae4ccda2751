// Package upstream provides a mock OpenRouter server for tests.
package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// CompletionsPath is the endpoint the client calls.
const CompletionsPath = "/chat/completions"

// MockServer simulates the OpenRouter chat completions endpoint,
// including error statuses and SSE streaming.
type MockServer struct {
	server         *httptest.Server
	mu             sync.Mutex
	responses      map[string]MockResponse
	modelResponses map[string]MockResponse
	requestCount   int
	lastAuth       string
}

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode   int
	Body         any
	Delay        time.Duration
	Headers      map[string]string
	StreamChunks []string // raw SSE data payloads
	// OmitDone suppresses the trailing [DONE] sentinel.
	OmitDone bool
}

// NewMockServer starts the server. Callers must Close it.
func NewMockServer() *MockServer {
	ms := &MockServer{
		responses:      make(map[string]MockResponse),
		modelResponses: make(map[string]MockResponse),
	}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handler))
	return ms
}

// URL returns the mock server's base URL.
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Close shuts the server down.
func (ms *MockServer) Close() {
	ms.server.Close()
}

// SetResponse sets the canned response for a path.
func (ms *MockServer) SetResponse(path string, response MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[path] = response
}

// SetCompletion sets the response for the completions endpoint.
func (ms *MockServer) SetCompletion(response MockResponse) {
	ms.SetResponse(CompletionsPath, response)
}

// SetModelResponse sets the response for requests naming the given
// model, taking precedence over the per-path response. This lets one
// test script different latencies or bodies per request.
func (ms *MockServer) SetModelResponse(model string, response MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.modelResponses[model] = response
}

// RequestCount reports how many requests the server has received.
func (ms *MockServer) RequestCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.requestCount
}

// LastAuthorization reports the Authorization header of the most
// recent request.
func (ms *MockServer) LastAuthorization() string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastAuth
}

func (ms *MockServer) handler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	ms.mu.Lock()
	ms.requestCount++
	ms.lastAuth = r.Header.Get("Authorization")
	response, ok := ms.responses[r.URL.Path]
	if modelResponse, found := ms.modelResponses[body.Model]; found {
		response, ok = modelResponse, true
	}
	ms.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if response.Delay > 0 {
		time.Sleep(response.Delay)
	}
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}

	if len(response.StreamChunks) > 0 || (response.StatusCode == 0 && response.Body == nil) {
		ms.handleStream(w, response)
		return
	}

	status := response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	switch v := response.Body.(type) {
	case nil:
	case string:
		_, _ = w.Write([]byte(v))
	case []byte:
		_, _ = w.Write(v)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (ms *MockServer) handleStream(w http.ResponseWriter, response MockResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	for _, chunk := range response.StreamChunks {
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
	}
	if !response.OmitDone {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

// Completion builds a non-streaming chat completion body.
func Completion(content, model string) map[string]any {
	return map[string]any{
		"id":      "gen-123",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 20,
			"total_tokens":      30,
		},
	}
}

// StreamChunk builds one SSE data payload. finishReason may be empty
// for intermediate chunks.
func StreamChunk(delta, finishReason string) string {
	choice := map[string]any{
		"index": 0,
		"delta": map[string]any{"content": delta},
	}
	if finishReason != "" {
		choice["finish_reason"] = finishReason
	}
	chunk := map[string]any{
		"id":      "gen-123",
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   "test-model",
		"choices": []map[string]any{choice},
	}
	b, _ := json.Marshal(chunk)
	return string(b)
}

// ErrorResponse builds an OpenRouter-shaped error body for a status.
func ErrorResponse(statusCode int, message string) MockResponse {
	return MockResponse{
		StatusCode: statusCode,
		Body: map[string]any{
			"error": map[string]any{
				"message": message,
				"code":    statusCode,
			},
		},
	}
}
