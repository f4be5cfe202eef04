// Package models defines the core data structures for CartPipe.
//
// It includes the API envelope, chat request/response types, the typed
// per-conversation memory record and the catalog entities owned by the store.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for an incoming chat message
	MaxMessageLength = 4096
	// MaxConversationIDLength defines the maximum allowed length for a conversation id
	MaxConversationIDLength = 128
	// DefaultInputType is used when a chat request omits input_type
	DefaultInputType = "text"
)

// Error variables for better error handling and testability
var (
	ErrEmptyConversationID   = errors.New("conversation_id cannot be empty")
	ErrConversationIDTooLong = errors.New("conversation_id exceeds maximum length")
	ErrEmptyMessage          = errors.New("message cannot be empty")
	ErrMessageTooLong        = errors.New("message exceeds maximum length")
	ErrInvalidInputType      = errors.New("invalid input_type")
)

// InputType describes how the user produced the message.
type InputType string

const (
	// InputTypeText is a typed message.
	InputTypeText InputType = "text"
	// InputTypeVoice is a transcribed voice message.
	InputTypeVoice InputType = "voice"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ConversationID string    `json:"conversation_id"`
	Message        string    `json:"message"`
	InputType      InputType `json:"input_type,omitempty"`
}

// Normalize fills defaults and trims surrounding whitespace.
func (r *ChatRequest) Normalize() {
	r.ConversationID = strings.TrimSpace(r.ConversationID)
	r.Message = strings.TrimSpace(r.Message)
	if r.InputType == "" {
		r.InputType = InputTypeText
	}
}

// Validate performs validation on a ChatRequest. The conversation id may be
// empty; the transport generates one in that case.
func (r *ChatRequest) Validate() error {
	if len(r.ConversationID) > MaxConversationIDLength {
		return ErrConversationIDTooLong
	}
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	switch r.InputType {
	case InputTypeText, InputTypeVoice:
		return nil
	default:
		return ErrInvalidInputType
	}
}

// ChatResponse is the result of one processed turn.
type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Route          Route  `json:"route"`
	Response       string `json:"response"`
}

// MessageRole identifies the author of a stored message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one persisted line of a conversation.
type Message struct {
	ID             int64       `json:"id,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"text"`
	Route          Route       `json:"route,omitempty"`
	InputType      InputType   `json:"input_type,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ConversationHistory is returned by GET /conversations/{id}.
type ConversationHistory struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
