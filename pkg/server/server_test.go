package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"bournemouth-hq/relay/internal/upstream"
	"bournemouth-hq/relay/pkg/config"
	"bournemouth-hq/relay/pkg/service"
	"bournemouth-hq/relay/pkg/store"
)

type testEnv struct {
	server   *httptest.Server
	upstream *upstream.MockServer
	store    *store.Store
	client   *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mock := upstream.NewMockServer()
	t.Cleanup(mock.Close)

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "relay.db")})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := service.New(service.Config{
		BaseURL:    mock.URL(),
		Timeout:    5 * time.Second,
		MaxClients: 4,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Auth.SessionSecret = "test-secret"

	srv, err := New(cfg, svc, st, nil, nil)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, upstream: mock, store: st, client: ts.Client()}
}

// login registers the user and returns the session cookie.
func (e *testEnv) login(t *testing.T, user, password string) *http.Cookie {
	t.Helper()
	if err := e.store.CreateUser(context.Background(), user, password); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, e.server.URL+"/login", nil)
	req.SetBasicAuth(user, password)
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func (e *testEnv) do(t *testing.T, method, path string, cookie *http.Cookie, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestChatRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/chat", nil, map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestChatWithoutStoredToken(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "alice", "pw")

	resp := env.do(t, http.MethodPost, "/chat", cookie, map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "missing OpenRouter token" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestTokenAndChatFlow(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "alice", "pw")

	resp := env.do(t, http.MethodPut, "/auth/openrouter-token", cookie,
		map[string]string{"token": "sk-or-abc"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put token status = %d", resp.StatusCode)
	}

	env.upstream.SetCompletion(upstream.MockResponse{
		Body: upstream.Completion("the answer", "m"),
	})
	resp = env.do(t, http.MethodPost, "/chat", cookie, map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	var chat struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatal(err)
	}
	if chat.Answer != "the answer" {
		t.Errorf("answer = %q", chat.Answer)
	}
	if auth := env.upstream.LastAuthorization(); auth != "Bearer sk-or-abc" {
		t.Errorf("Authorization = %q", auth)
	}

	// Deleting the token makes chat fail again.
	resp = env.do(t, http.MethodDelete, "/auth/openrouter-token", cookie, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete token status = %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodPost, "/chat", cookie, map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("chat after delete status = %d", resp.StatusCode)
	}
}

func TestChatUpstreamErrors(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "alice", "pw")
	env.do(t, http.MethodPut, "/auth/openrouter-token", cookie,
		map[string]string{"token": "sk-or-abc"})

	env.upstream.SetCompletion(upstream.ErrorResponse(500, "boom"))
	resp := env.do(t, http.MethodPost, "/chat", cookie, map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestStatefulChat(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "alice", "pw")
	env.do(t, http.MethodPut, "/auth/openrouter-token", cookie,
		map[string]string{"token": "sk-or-abc"})
	env.upstream.SetCompletion(upstream.MockResponse{
		Body: upstream.Completion("first answer", "m"),
	})

	resp := env.do(t, http.MethodPost, "/chat/state", cookie,
		map[string]string{"message": "first question"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var first struct {
		ConversationID string `json:"conversation_id"`
		Answer         string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&first); err != nil {
		t.Fatal(err)
	}
	if first.ConversationID == "" || first.Answer != "first answer" {
		t.Fatalf("response = %+v", first)
	}

	// Second turn continues the conversation and is persisted.
	resp = env.do(t, http.MethodPost, "/chat/state", cookie, map[string]string{
		"conversation_id": first.ConversationID,
		"message":         "second question",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second status = %d", resp.StatusCode)
	}

	turns, err := env.store.History(context.Background(), "alice", first.ConversationID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(turns))
	}
	if turns[0].Content != "first question" || turns[1].Content != "first answer" {
		t.Errorf("first turn mismatch: %+v %+v", turns[0], turns[1])
	}

	// Unknown conversation id is rejected.
	resp = env.do(t, http.MethodPost, "/chat/state", cookie, map[string]string{
		"conversation_id": "no-such-conversation",
		"message":         "hi",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown conversation status = %d", resp.StatusCode)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", nil, nil)
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("missing generated request id")
	}

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, "client-chosen")
	resp2, err := env.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get(RequestIDHeader); got != "client-chosen" {
		t.Errorf("request id = %q, want client-chosen", got)
	}
}
