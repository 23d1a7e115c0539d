// Package models defines the core data structures for DialPipe.
//
// It includes the role-tagged conversation messages, caller profiles and prospects, Twilio call statuses
// and the JSON envelopes returned by the API, which are shared across modules.
package models

import (
	"errors"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem marks persona, context and instruction messages.
	RoleSystem Role = "system"
	// RoleUser marks caller utterances (and synthesized user-role instructions).
	RoleUser Role = "user"
	// RoleAssistant marks replies produced by the completion engine.
	RoleAssistant Role = "assistant"
)

// Error variables for better error handling and testability
var (
	ErrInvalidRole  = errors.New("invalid message role")
	ErrEmptyContent = errors.New("message content cannot be empty")
	ErrEmptyPhone   = errors.New("phone number cannot be empty")
)

// IsValidRole checks if the given role is supported.
func IsValidRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is a single role-tagged entry in a call's conversation.
// The JSON shape matches the records the backend stores for each call.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate checks that the message has a known role and non-empty content.
func (m Message) Validate() error {
	if !IsValidRole(m.Role) {
		return ErrInvalidRole
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// CountByRole returns how many messages in seq carry the given role.
func CountByRole(seq []Message, role Role) int {
	n := 0
	for _, m := range seq {
		if m.Role == role {
			n++
		}
	}
	return n
}

// CloneMessages returns a copy of seq that can be appended to without aliasing the original.
func CloneMessages(seq []Message) []Message {
	out := make([]Message, len(seq))
	copy(out, seq)
	return out
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusInitiated indicates an outbound call was handed to the provider.
	APIStatusInitiated APIStatus = "initiated"
)

// API Response types for consistent JSON responses

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
	return &APIResponseBuilder{
		response: APIResponse{},
	}
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

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// ErrorResponse is the flat error body returned by the call trigger endpoint,
// which the web backend forwards to its client verbatim.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TriggerCallResponse is returned by GET /trigger-call once the provider accepted the call.
type TriggerCallResponse struct {
	Status  APIStatus `json:"status"`
	CallSID string    `json:"call_sid"`
}
