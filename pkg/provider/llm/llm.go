// Package llm defines the Provider interface for the Large Language Model
// backends used by the ad classifier.
//
// A provider wraps a remote or local model API (Anthropic, OpenAI, Ollama, a
// self-hosted OpenAI-compatible server, ...) behind a uniform non-streaming
// completion call. The classifier requests JSON output; backends that cannot
// enforce a JSON response format natively must fall back to
// [ForceJSONInstructions] appended to the system prompt.
//
// Implementors must be safe for concurrent use and must honour the request
// timeout and context cancellation.
package llm

import "context"

// Role values for [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a completion conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// text.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns InputTokens + OutputTokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// CompletionRequest carries everything a backend needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// the user prompt that drives the response.
	Messages []Message

	// SystemPrompt is a high-priority instruction injected before the
	// conversation. Backends without a dedicated system slot prepend it as a
	// system-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// JSONMode requests that the model emit a single JSON value. Backends
	// with native JSON response formats use them; others must append
	// [ForceJSONInstructions] to the system prompt.
	JSONMode bool
}

// CompletionResponse is the full, non-streaming result of a completion.
type CompletionResponse struct {
	// Content is the text of the model's reply.
	Content string

	// Model is the backend-reported model identifier that served the call.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ForceJSONInstructions is the instruction block appended to the system
// prompt when JSONMode is requested against a backend that has no native
// JSON response format.
const ForceJSONInstructions = `

IMPORTANT: Respond with ONLY valid JSON. No markdown fences, no prose, no
explanation before or after. The entire response must parse as a single JSON
value.`

// CoerceJSONMode returns req with the JSON-only instruction block appended
// to the system prompt when JSONMode is set. Backends that enforce JSON
// natively should not call this.
func CoerceJSONMode(req CompletionRequest) CompletionRequest {
	if req.JSONMode {
		req.SystemPrompt += ForceJSONInstructions
	}
	return req
}
