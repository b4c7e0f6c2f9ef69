package core

import (
	"fmt"
	"time"
)

// Error is the canonical error value surfaced by the session client.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`

	// Details carries server-provided reconnect hints. They are
	// informational only; the client never schedules reconnects from them.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail mirrors one entry of a structured server error.
type ErrorDetail struct {
	ErrorType     string        `json:"error_type,omitempty"`
	ReconnectType string        `json:"reconnect_type,omitempty"`
	MaxRetries    int           `json:"max_retries,omitempty"`
	ReconnectTime time.Duration `json:"reconnect_time,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrSession        ErrorType = "session_error"
	ErrConversation   ErrorType = "conversation_error"
	ErrAudio          ErrorType = "audio_error"
	ErrAPI            ErrorType = "api_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewSessionError creates a session lifecycle error.
func NewSessionError(message string) *Error {
	return &Error{
		Type:    ErrSession,
		Message: message,
	}
}

// NewConversationError creates a conversation state error.
func NewConversationError(message string) *Error {
	return &Error{
		Type:    ErrConversation,
		Message: message,
	}
}

// NewAudioError creates an audio pipeline error.
func NewAudioError(message string) *Error {
	return &Error{
		Type:    ErrAudio,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}
