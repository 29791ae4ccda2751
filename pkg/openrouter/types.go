package openrouter

import (
	"encoding/json"
	"fmt"
)

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ImageURL points at an image attached to a user message.
type ImageURL struct {
	// URL is the image location (https or data URI).
	URL string `json:"url"`

	// Detail controls the upstream's image resolution ("auto", "low", "high").
	Detail string `json:"detail,omitempty"`
}

// ContentPart is one element of a structured message body.
// Type is either "text" or "image_url"; exactly one of Text and
// ImageURL is set accordingly.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart returns an image content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url, Detail: "auto"}}
}

// MessageContent is either plain text or a list of content parts.
// The zero value marshals as the empty string.
type MessageContent struct {
	// Text is the plain text body, used when Parts is nil.
	Text string

	// Parts is the structured body. Only user messages may carry parts.
	Parts []ContentPart
}

// Text returns a plain-text MessageContent.
func Text(s string) MessageContent {
	return MessageContent{Text: s}
}

// Parts returns a structured MessageContent.
func Parts(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// MarshalJSON encodes the content as a string or an array of parts.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON decodes either a JSON string or an array of parts.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &c.Parts)
	}
	return json.Unmarshal(data, &c.Text)
}

// ChatMessage is a single message in a conversation. It is immutable
// once constructed; callers build a fresh slice per request.
type ChatMessage struct {
	// Role identifies the sender (system, user, assistant, tool).
	Role string `json:"role"`

	// Content is the message body, plain text or content parts.
	Content MessageContent `json:"content"`

	// Name optionally names the sender.
	Name string `json:"name,omitempty"`

	// ToolCallID references the tool call a tool message responds to.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls carries assistant tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// TextMessage returns a plain-text message for the given role.
func TextMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: Text(text)}
}

// UserMessage returns a user message with structured content parts.
func UserMessage(parts ...ContentPart) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: Parts(parts...)}
}

// ToolMessage returns a tool message responding to toolCallID.
func ToolMessage(toolCallID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: Text(content), ToolCallID: toolCallID}
}

// Validate enforces the message invariants: only user messages may
// carry structured content parts, and tool messages must reference the
// tool call they respond to.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("tool messages must include tool_call_id")
	}
	if m.Role != RoleUser && m.Content.Parts != nil {
		return fmt.Errorf("only user messages may contain content parts")
	}
	return nil
}

// FunctionDescription defines a callable function for tool use.
type FunctionDescription struct {
	Name        string         `json:"name"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description,omitempty"`
}

// Tool is a tool definition offered to the model.
type Tool struct {
	Type     string              `json:"type"`
	Function FunctionDescription `json:"function"`
}

// ResponseFormat constrains the completion output format.
type ResponseFormat struct {
	// Type is "text" or "json_object".
	Type string `json:"type"`
}

// ChatCompletionRequest is the body of a chat completions call.
//
// The Stream flag and the chosen client method must agree; Complete
// clears it and Stream sets it rather than rejecting a mismatch.
type ChatCompletionRequest struct {
	// Model is the upstream model identifier.
	Model string `json:"model"`

	// Messages is the ordered conversation history.
	Messages []ChatMessage `json:"messages"`

	// Stream requests an incremental SSE response.
	Stream bool `json:"stream,omitempty"`

	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	FrequencyPenalty  *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty   *float64 `json:"presence_penalty,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	Stop              []string `json:"stop,omitempty"`
	Seed              *int     `json:"seed,omitempty"`

	Tools      []Tool `json:"tools,omitempty"`
	ToolChoice any    `json:"tool_choice,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// User is an optional end-user identifier for abuse monitoring.
	User string `json:"user,omitempty"`

	// Transforms, Models, and Route are OpenRouter routing controls.
	Transforms []string `json:"transforms,omitempty"`
	Models     []string `json:"models,omitempty"`
	Route      string   `json:"route,omitempty"`

	// Usage requests usage accounting options.
	Usage map[string]any `json:"usage,omitempty"`
}

// FunctionCall is a concrete function invocation returned by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation returned by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ResponseMessage is the assistant message in a one-shot response.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ResponseDelta is the incremental payload of a stream chunk.
type ResponseDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChatCompletionChoice is one completion alternative.
type ChatCompletionChoice struct {
	Index              int             `json:"index"`
	Message            ResponseMessage `json:"message"`
	FinishReason       *string         `json:"finish_reason,omitempty"`
	NativeFinishReason *string         `json:"native_finish_reason,omitempty"`
}

// StreamChoice is one alternative inside a stream chunk. A non-nil
// FinishReason terminates that choice's stream.
type StreamChoice struct {
	Index              int           `json:"index"`
	Delta              ResponseDelta `json:"delta"`
	FinishReason       *string       `json:"finish_reason,omitempty"`
	NativeFinishReason *string       `json:"native_finish_reason,omitempty"`
}

// UsageStats tracks token consumption for a completion.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the envelope of a one-shot completion.
type ChatCompletionResponse struct {
	ID                string                 `json:"id"`
	Object            string                 `json:"object"`
	Created           int64                  `json:"created"`
	Model             string                 `json:"model"`
	Choices           []ChatCompletionChoice `json:"choices"`
	Usage             *UsageStats            `json:"usage,omitempty"`
	SystemFingerprint string                 `json:"system_fingerprint,omitempty"`
}

// StreamChunk is the envelope of one streamed completion chunk.
type StreamChunk struct {
	ID                string         `json:"id"`
	Object            string         `json:"object"`
	Created           int64          `json:"created"`
	Model             string         `json:"model"`
	Choices           []StreamChoice `json:"choices"`
	Usage             *UsageStats    `json:"usage,omitempty"`
	SystemFingerprint string         `json:"system_fingerprint,omitempty"`
}

// ErrorDetails is the structured error payload OpenRouter returns
// alongside failing status codes. Code may be a string or a number.
type ErrorDetails struct {
	Message  string          `json:"message"`
	Code     json.RawMessage `json:"code,omitempty"`
	Param    string          `json:"param,omitempty"`
	Type     string          `json:"type,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// errorResponse is the wire envelope for ErrorDetails.
type errorResponse struct {
	Error ErrorDetails `json:"error"`
}
