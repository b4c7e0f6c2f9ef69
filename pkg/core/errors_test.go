package core

import (
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrInvalidRequest,
		Message: "scene name must not be empty",
	}

	expected := "invalid_request_error: scene name must not be empty"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := &Error{
		Type:    ErrAPI,
		Message: "invalid JSON received",
		Code:    "malformed_message",
	}

	expected := "api_error: invalid JSON received (code: malformed_message)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		wantType ErrorType
	}{
		{"invalid request", NewInvalidRequestError("bad"), ErrInvalidRequest},
		{"authentication", NewAuthenticationError("no key"), ErrAuthentication},
		{"session", NewSessionError("closed"), ErrSession},
		{"conversation", NewConversationError("not active"), ErrConversation},
		{"audio", NewAudioError("no device"), ErrAudio},
		{"api", NewAPIError("upstream"), ErrAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", tt.err.Type, tt.wantType)
			}
			if tt.err.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}
