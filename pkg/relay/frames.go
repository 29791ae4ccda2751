package relay

import "bournemouth-hq/relay/pkg/openrouter"

// Request is one inbound logical chat request. TransactionID is a
// caller-chosen opaque token; the relay does not deduplicate it.
type Request struct {
	TransactionID string           `json:"transaction_id"`
	Message       string           `json:"message"`
	Model         string           `json:"model,omitempty"`
	History       []HistoryMessage `json:"history,omitempty"`
}

// HistoryMessage is one prior turn supplied by the client.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is one outbound frame. The shape is uniform: notices and
// upstream-failure reports are ordinary terminal frames, not a
// distinct error shape.
type Response struct {
	TransactionID string `json:"transaction_id"`
	Fragment      string `json:"fragment"`
	Finished      bool   `json:"finished"`
}

// BuildHistory returns the full message history for a transaction:
// the prior turns followed by the new user message.
func BuildHistory(message string, history []HistoryMessage) []openrouter.ChatMessage {
	messages := make([]openrouter.ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, openrouter.TextMessage(turn.Role, turn.Content))
	}
	messages = append(messages, openrouter.TextMessage(openrouter.RoleUser, message))
	return messages
}
