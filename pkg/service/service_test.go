package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"bournemouth-hq/relay/internal/upstream"
	"bournemouth-hq/relay/pkg/openrouter"
)

func newTestService(t *testing.T, server *upstream.MockServer, maxClients int) *Service {
	t.Helper()
	svc := New(Config{
		BaseURL:    server.URL(),
		Timeout:    5 * time.Second,
		MaxClients: maxClients,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func userMessages(text string) []openrouter.ChatMessage {
	return []openrouter.ChatMessage{openrouter.TextMessage(openrouter.RoleUser, text)}
}

func TestChatCompletion(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		Body: upstream.Completion("answer", "test-model"),
	})

	svc := newTestService(t, server, 4)
	resp, err := svc.ChatCompletion(context.Background(), "key-1", userMessages("q"), "")
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Choices[0].Message.Content != "answer" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if svc.Len() != 1 {
		t.Errorf("pool size = %d, want 1", svc.Len())
	}
	if auth := server.LastAuthorization(); auth != "Bearer key-1" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestConcurrentCallsShareOneClient(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		Body:  upstream.Completion("ok", "m"),
		Delay: 20 * time.Millisecond,
	})

	svc := newTestService(t, server, 4)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ChatCompletion(context.Background(), "shared-key", userMessages("q"), "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if svc.Len() != 1 {
		t.Errorf("pool size = %d, want exactly 1 client for one key", svc.Len())
	}
	if got := server.RequestCount(); got != callers {
		t.Errorf("upstream requests = %d, want %d", got, callers)
	}
}

func TestEvictionKeepsPoolBounded(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{Body: upstream.Completion("ok", "m")})

	const maxClients = 3
	svc := newTestService(t, server, maxClients)

	for i := 0; i < maxClients+2; i++ {
		key := fmt.Sprintf("key-%d", i)
		if _, err := svc.ChatCompletion(context.Background(), key, userMessages("q"), ""); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if svc.Len() != maxClients {
		t.Errorf("pool size = %d, want %d", svc.Len(), maxClients)
	}

	// key-0 and key-1 were evicted in LRU order; using key-0 again
	// constructs a fresh client and evicts the current oldest.
	if _, err := svc.ChatCompletion(context.Background(), "key-0", userMessages("q"), ""); err != nil {
		t.Fatalf("reuse after eviction: %v", err)
	}
	if svc.Len() != maxClients {
		t.Errorf("pool size after reuse = %d, want %d", svc.Len(), maxClients)
	}
}

func TestRecentUseProtectsFromEviction(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{Body: upstream.Completion("ok", "m")})

	svc := newTestService(t, server, 2)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		if _, err := svc.ChatCompletion(ctx, key, userMessages("q"), ""); err != nil {
			t.Fatal(err)
		}
	}
	// Touch "a" so "b" becomes least recently used.
	if _, err := svc.ChatCompletion(ctx, "a", userMessages("q"), ""); err != nil {
		t.Fatal(err)
	}
	// Adding "c" must evict "b": a subsequent call for "a" hits the
	// existing client while count stays at the cap.
	if _, err := svc.ChatCompletion(ctx, "c", userMessages("q"), ""); err != nil {
		t.Fatal(err)
	}
	before := server.RequestCount()
	if _, err := svc.ChatCompletion(ctx, "a", userMessages("q"), ""); err != nil {
		t.Fatal(err)
	}
	if svc.Len() != 2 {
		t.Errorf("pool size = %d, want 2", svc.Len())
	}
	if got := server.RequestCount(); got != before+1 {
		t.Errorf("requests = %d, want %d", got, before+1)
	}
}

func TestRemove(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{Body: upstream.Completion("ok", "m")})

	svc := newTestService(t, server, 4)
	if _, err := svc.ChatCompletion(context.Background(), "key", userMessages("q"), ""); err != nil {
		t.Fatal(err)
	}
	svc.Remove("key")
	if svc.Len() != 0 {
		t.Errorf("pool size = %d, want 0", svc.Len())
	}
	// Unknown key is a no-op.
	svc.Remove("other")
}

func TestErrorCollapse(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	svc := newTestService(t, server, 4)

	server.SetCompletion(upstream.ErrorResponse(401, "bad key"))
	_, err := svc.ChatCompletion(context.Background(), "key", userMessages("q"), "")
	var gateway *BadGatewayError
	if !errors.As(err, &gateway) {
		t.Fatalf("401: err = %v, want BadGatewayError", err)
	}

	server.SetCompletion(upstream.ErrorResponse(500, "boom"))
	_, err = svc.ChatCompletion(context.Background(), "key", userMessages("q"), "")
	if !errors.As(err, &gateway) {
		t.Fatalf("500: err = %v, want BadGatewayError", err)
	}
}

func TestTimeoutCollapse(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		Body:  upstream.Completion("late", "m"),
		Delay: 200 * time.Millisecond,
	})

	svc := New(Config{
		BaseURL:    server.URL(),
		Timeout:    20 * time.Millisecond,
		MaxClients: 2,
	})
	defer svc.Shutdown(context.Background())

	_, err := svc.ChatCompletion(context.Background(), "key", userMessages("q"), "")
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}

func TestShutdownDrainsAndResets(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		Body:  upstream.Completion("ok", "m"),
		Delay: 100 * time.Millisecond,
	})

	svc := New(Config{BaseURL: server.URL(), Timeout: 5 * time.Second, MaxClients: 4})

	started := make(chan struct{})
	callDone := make(chan error, 1)
	go func() {
		close(started)
		_, err := svc.ChatCompletion(context.Background(), "key", userMessages("q"), "")
		callDone <- err
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the call reach the upstream

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- svc.Shutdown(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	// While draining, new calls fail fast.
	if _, err := svc.ChatCompletion(context.Background(), "other", userMessages("q"), ""); !errors.Is(err, ErrDraining) {
		t.Fatalf("during drain: err = %v, want ErrDraining", err)
	}

	if err := <-callDone; err != nil {
		t.Fatalf("in-flight call: %v", err)
	}
	if err := <-shutdownDone; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if svc.Len() != 0 {
		t.Errorf("pool size after shutdown = %d, want 0", svc.Len())
	}

	// The pool is reusable after a completed shutdown.
	server.SetCompletion(upstream.MockResponse{Body: upstream.Completion("ok", "m")})
	if _, err := svc.ChatCompletion(context.Background(), "key", userMessages("q"), ""); err != nil {
		t.Fatalf("call after shutdown: %v", err)
	}
}

func TestShutdownContextExpiry(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		Body:  upstream.Completion("ok", "m"),
		Delay: 150 * time.Millisecond,
	})

	svc := New(Config{BaseURL: server.URL(), Timeout: 5 * time.Second, MaxClients: 4})

	callDone := make(chan error, 1)
	go func() {
		_, err := svc.ChatCompletion(context.Background(), "key", userMessages("q"), "")
		callDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown: err = %v, want DeadlineExceeded", err)
	}

	// The drain still completes in the background.
	if err := <-callDone; err != nil {
		t.Fatalf("in-flight call: %v", err)
	}
	deadline := time.After(time.Second)
	for svc.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("background drain never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStreamChatCompletion(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		StreamChunks: []string{
			upstream.StreamChunk("Hel", ""),
			upstream.StreamChunk("lo", "stop"),
		},
	})

	svc := newTestService(t, server, 4)
	stream, err := svc.StreamChatCompletion(context.Background(), "key", userMessages("q"), "")
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}
	defer stream.Close()

	var parts []string
	for {
		chunk, err := stream.Recv(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		parts = append(parts, chunk.Choices[0].Delta.Content)
	}
	if got := fmt.Sprint(parts); got != "[Hel lo]" {
		t.Errorf("fragments = %v", parts)
	}
}

func TestStreamReleaseUnblocksShutdown(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		StreamChunks: []string{upstream.StreamChunk("x", "")},
	})

	svc := New(Config{BaseURL: server.URL(), Timeout: 5 * time.Second, MaxClients: 4})

	stream, err := svc.StreamChatCompletion(context.Background(), "key", userMessages("q"), "")
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- svc.Shutdown(context.Background())
	}()
	select {
	case <-shutdownDone:
		t.Fatal("shutdown finished while a stream was open")
	case <-time.After(50 * time.Millisecond):
	}

	// Abandoning the stream releases the in-flight slot.
	stream.Close()
	select {
	case err := <-shutdownDone:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("shutdown did not complete after stream close")
	}
}

func TestStreamErrorCollapse(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.ErrorResponse(503, "down"))

	svc := newTestService(t, server, 4)
	_, err := svc.StreamChatCompletion(context.Background(), "key", userMessages("q"), "")
	var gateway *BadGatewayError
	if !errors.As(err, &gateway) {
		t.Fatalf("err = %v, want BadGatewayError", err)
	}
	// The failed stream start must not leak the in-flight slot.
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestConstructionGuardsAreReleased(t *testing.T) {
	server := upstream.NewMockServer()
	defer server.Close()
	server.SetCompletion(upstream.MockResponse{
		Body: upstream.Completion("ok", "m"),
	})

	svc := newTestService(t, server, 3)

	// Many distinct credentials, several callers each. The pool stays
	// bounded, and the per-key construction guards must not pile up
	// once the constructions finish.
	const keys = 20
	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		key := fmt.Sprintf("key-%d", i)
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = svc.ChatCompletion(context.Background(), key, userMessages("q"), "")
			}()
		}
	}
	wg.Wait()

	if n := svc.Len(); n > 3 {
		t.Errorf("pool size = %d, want at most 3", n)
	}
	svc.mu.Lock()
	pending := len(svc.guards)
	svc.mu.Unlock()
	if pending != 0 {
		t.Errorf("lingering construction guards = %d, want 0", pending)
	}
}
