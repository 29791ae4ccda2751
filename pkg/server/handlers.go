package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bournemouth-hq/relay/pkg/auth"
	"bournemouth-hq/relay/pkg/openrouter"
	"bournemouth-hq/relay/pkg/service"
	"bournemouth-hq/relay/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// HealthHandler reports liveness.
type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TokenHandler stores and clears the caller's OpenRouter token.
type TokenHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewTokenHandler builds the token management endpoint.
func NewTokenHandler(st *store.Store, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{store: st, logger: logger}
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			writeError(w, http.StatusBadRequest, "token is required")
			return
		}
		if err := h.store.SaveToken(r.Context(), user, req.Token); err != nil {
			h.logger.Error("failed to save token", "error", err, "user", user)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := h.store.ClearToken(r.Context(), user); err != nil {
			h.logger.Error("failed to clear token", "error", err, "user", user)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ChatHandler answers one-shot chat requests over plain HTTP.
type ChatHandler struct {
	service *service.Service
	store   *store.Store
	logger  *slog.Logger
}

// NewChatHandler builds the one-shot chat endpoint.
func NewChatHandler(svc *service.Service, st *store.Store, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{service: svc, store: st, logger: logger}
}

type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	answer, status, msg := h.generateAnswer(r, user, req, nil)
	if msg != "" {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}

// generateAnswer runs one completion for the user. On failure it
// returns an HTTP status and client-safe message instead of an answer.
func (h *ChatHandler) generateAnswer(r *http.Request, user string, req chatRequest, history []store.Turn) (string, int, string) {
	token, err := h.store.ResolveCredential(r.Context(), user)
	if err != nil {
		h.logger.Error("credential lookup failed", "error", err, "user", user)
		return "", http.StatusInternalServerError, "internal error"
	}
	if token == "" {
		return "", http.StatusUnauthorized, "missing OpenRouter token"
	}

	messages := make([]openrouter.ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, openrouter.TextMessage(turn.Role, turn.Content))
	}
	messages = append(messages, openrouter.TextMessage(openrouter.RoleUser, req.Message))

	resp, err := h.service.ChatCompletion(r.Context(), token, messages, req.Model)
	if err != nil {
		status, msg := mapServiceError(h.logger, user, err)
		return "", status, msg
	}
	if len(resp.Choices) == 0 {
		h.logger.Error("upstream returned no choices", "user", user)
		return "", http.StatusBadGateway, "upstream failure"
	}
	return resp.Choices[0].Message.Content, 0, ""
}

func mapServiceError(logger *slog.Logger, user string, err error) (int, string) {
	var timeout *service.TimeoutError
	var gateway *service.BadGatewayError
	switch {
	case errors.As(err, &timeout):
		logger.Warn("chat request timed out", "error", err, "user", user)
		return http.StatusGatewayTimeout, "upstream timeout"
	case errors.As(err, &gateway):
		logger.Warn("chat request failed upstream", "error", err, "user", user)
		return http.StatusBadGateway, "upstream failure"
	case errors.Is(err, service.ErrDraining):
		return http.StatusServiceUnavailable, "shutting down"
	default:
		logger.Error("chat request failed", "error", err, "user", user)
		return http.StatusInternalServerError, "internal error"
	}
}

// StatefulChatHandler answers chat requests and persists the turns.
type StatefulChatHandler struct {
	chat   *ChatHandler
	store  *store.Store
	logger *slog.Logger
}

// NewStatefulChatHandler builds the stateful chat endpoint.
func NewStatefulChatHandler(chat *ChatHandler, st *store.Store, logger *slog.Logger) *StatefulChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatefulChatHandler{chat: chat, store: st, logger: logger}
}

type statefulChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Model          string `json:"model,omitempty"`
}

type statefulChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
}

func (h *StatefulChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req statefulChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	var history []store.Turn
	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := h.store.CreateConversation(r.Context(), user)
		if err != nil {
			h.logger.Error("failed to create conversation", "error", err, "user", user)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		conversationID = id
	} else {
		turns, err := h.store.History(r.Context(), user, conversationID)
		if errors.Is(err, store.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if err != nil {
			h.logger.Error("failed to load history", "error", err, "user", user)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		history = turns
	}

	answer, status, msg := h.chat.generateAnswer(r, user,
		chatRequest{Message: req.Message, Model: req.Model}, history)
	if msg != "" {
		writeError(w, status, msg)
		return
	}

	if err := h.store.PersistTurn(r.Context(), user, conversationID, req.Message, answer); err != nil {
		h.logger.Error("failed to persist turn",
			"error", err,
			"user", user,
			"conversation_id", conversationID,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, statefulChatResponse{
		ConversationID: conversationID,
		Answer:         answer,
	})
}
