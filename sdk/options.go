package parley

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/parley-ai/parley-go/pkg/core/audio"
	"github.com/parley-ai/parley-go/pkg/core/protocol"
	"github.com/parley-ai/parley-go/pkg/core/session"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithGateway sets the session gateway endpoint.
func WithGateway(hostname string, ssl bool) ClientOption {
	return func(c *Client) {
		c.gateway = session.Gateway{Hostname: hostname, SSL: ssl}
	}
}

// WithTokenSource sets the session token source.
func WithTokenSource(source session.TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = source
	}
}

// WithCapabilities overrides the negotiated protocol capabilities.
func WithCapabilities(caps protocol.Capabilities) ClientOption {
	return func(c *Client) {
		c.capabilities = caps
	}
}

// WithClientConfig identifies the connecting client build during handshake.
func WithClientConfig(cfg protocol.ClientConfig) ClientOption {
	return func(c *Client) {
		c.clientConfig = &cfg
	}
}

// WithUser identifies the end user during handshake.
func WithUser(cfg protocol.UserConfig) ClientOption {
	return func(c *Client) {
		c.user = &cfg
	}
}

// WithGameSessionID binds the session to an external game session.
func WithGameSessionID(id string) ClientOption {
	return func(c *Client) {
		c.gameSessionID = id
	}
}

// WithPlayerName sets the display name used for the local user in
// transcripts and placeholder substitution.
func WithPlayerName(name string) ClientOption {
	return func(c *Client) {
		c.playerName = name
	}
}

// WithDevice injects the platform playback primitives.
func WithDevice(device audio.Device) ClientOption {
	return func(c *Client) {
		c.device = device
	}
}

// WithCaptureSource injects the platform microphone source.
func WithCaptureSource(source audio.CaptureSource) ClientOption {
	return func(c *Client) {
		c.captureSource = source
	}
}

// WithPeerPairer injects the loopback peer-pair factory for platforms that
// need playback/capture isolation.
func WithPeerPairer(pairer audio.PeerPairer) ClientOption {
	return func(c *Client) {
		c.pairer = pairer
	}
}

// WithStopRamp overrides the fade-out applied when playback is interrupted.
func WithStopRamp(ramp audio.RampConfig) ClientOption {
	return func(c *Client) {
		c.stopRamp = ramp
	}
}

// WithAutoDisconnect closes the idle connection after d of send inactivity.
// The session context survives; the next send transparently reconnects.
// Zero disables the timer.
func WithAutoDisconnect(d time.Duration) ClientOption {
	return func(c *Client) {
		c.autoDisconnect = d
	}
}

// WithAutoSave periodically snapshots the session state through save. Saves
// are advisory; failures are retried with increasing patience and then
// dropped until the next interval.
func WithAutoSave(interval time.Duration, save func(state []byte) error) ClientOption {
	return func(c *Client) {
		c.autoSaveInterval = interval
		c.autoSaveFn = save
	}
}

// WithTokenSkew sets how early before expiration a token is considered
// stale and regenerated.
func WithTokenSkew(d time.Duration) ClientOption {
	return func(c *Client) {
		c.tokenSkew = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracer sets the OpenTelemetry tracer for the client.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}
