// Package parley is the client SDK for real-time conversational sessions:
// a duplex websocket to the session gateway, synthesized-speech playback
// with interruption, microphone capture, and transcript reconstruction.
package parley

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/parley-ai/parley-go/pkg/core"
	"github.com/parley-ai/parley-go/pkg/core/audio"
	"github.com/parley-ai/parley-go/pkg/core/protocol"
	"github.com/parley-ai/parley-go/pkg/core/session"
)

const (
	defaultTokenSkew = 5 * time.Minute
	// ClientID identifies this SDK in the handshake client configuration.
	ClientID = "parley-go"
	// Version is the SDK release version.
	Version = "0.4.0"
)

// Client holds the configuration shared by every session it opens.
type Client struct {
	logger *slog.Logger
	tracer trace.Tracer

	gateway      session.Gateway
	tokens       session.TokenSource
	capabilities protocol.Capabilities
	clientConfig *protocol.ClientConfig
	user         *protocol.UserConfig

	gameSessionID string
	playerName    string

	device        audio.Device
	captureSource audio.CaptureSource
	pairer        audio.PeerPairer
	stopRamp      audio.RampConfig

	autoDisconnect   time.Duration
	autoSaveInterval time.Duration
	autoSaveFn       func(state []byte) error
	tokenSkew        time.Duration
}

// DefaultCapabilities returns the feature set negotiated when none is
// configured explicitly.
func DefaultCapabilities() protocol.Capabilities {
	return protocol.Capabilities{
		Audio:           true,
		Emotions:        true,
		Interruptions:   true,
		NarratedActions: true,
		SilenceEvents:   true,
		Triggers:        true,
		Logs:            true,
	}
}

// NewClient creates a Client with the given options. A token source is
// required; everything else has a usable default.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		logger:       slog.Default(),
		capabilities: DefaultCapabilities(),
		stopRamp:     audio.DefaultRampConfig(),
		tokenSkew:    defaultTokenSkew,
		playerName:   "Player",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		return nil, core.NewAuthenticationError("a token source must be configured")
	}
	if strings.TrimSpace(c.gateway.Hostname) == "" {
		return nil, core.NewInvalidRequestError("a gateway hostname must be configured")
	}
	if err := c.stopRamp.Validate(); err != nil {
		return nil, err
	}
	if c.clientConfig == nil {
		c.clientConfig = &protocol.ClientConfig{ID: ClientID, Version: Version}
	}
	return c, nil
}

var sceneNameRE = regexp.MustCompile(`^workspaces/[^/]+/(characters|scenes)/[^/]+$`)

// validateSceneName rejects resource names that do not follow the
// workspaces/{workspace}/(characters|scenes)/{name} pattern.
func validateSceneName(name string) error {
	if strings.TrimSpace(name) == "" {
		return core.NewInvalidRequestError("scene name must not be empty")
	}
	if !sceneNameRE.MatchString(name) {
		return core.NewInvalidRequestError(fmt.Sprintf(
			"scene name %q does not match workspaces/{workspace}/(characters|scenes)/{name}", name))
	}
	return nil
}

// SessionProps configures one session opened by the client.
type SessionProps struct {
	// Scene is the resource name of the scene to load.
	Scene string
	// Continuation resumes from saved state or prior dialog.
	Continuation *protocol.Continuation
	// RequestHistory fetches the server-side dialog history after the scene
	// loads. Only honored together with a continuation.
	RequestHistory bool
	Callbacks      SessionCallbacks
}

// OpenSession connects, performs the handshake and returns an active
// session. The returned session keeps itself connected across idle
// disconnects until Close is called.
func (c *Client) OpenSession(ctx context.Context, props SessionProps) (*Session, error) {
	if err := validateSceneName(props.Scene); err != nil {
		return nil, err
	}

	s, err := newSession(c, props)
	if err != nil {
		return nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
