package parley

import (
	"github.com/parley-ai/parley-go/pkg/core"
	"github.com/parley-ai/parley-go/pkg/core/session"
)

// Error is the typed error returned by the SDK.
type Error = core.Error

// TransportError wraps websocket dial, read and write failures.
type TransportError = session.TransportError

// Error type constants re-exported for callers that switch on Type.
const (
	ErrInvalidRequest = core.ErrInvalidRequest
	ErrAuthentication = core.ErrAuthentication
	ErrSession        = core.ErrSession
	ErrConversation   = core.ErrConversation
	ErrAudio          = core.ErrAudio
	ErrAPI            = core.ErrAPI
)
