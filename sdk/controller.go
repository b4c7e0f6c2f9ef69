package parley

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/parley-ai/parley-go/pkg/core"
	"github.com/parley-ai/parley-go/pkg/core/audio"
	"github.com/parley-ai/parley-go/pkg/core/conversation"
	"github.com/parley-ai/parley-go/pkg/core/history"
	"github.com/parley-ai/parley-go/pkg/core/packets"
	"github.com/parley-ai/parley-go/pkg/core/protocol"
	"github.com/parley-ai/parley-go/pkg/core/session"
)

// SessionCallbacks receive session events. All callbacks are optional and
// are invoked from the transport's read goroutine; they must not block.
type SessionCallbacks struct {
	// OnPacket receives every inbound domain packet after internal routing.
	OnPacket func(packets.Packet)
	// OnError receives transport and server errors.
	OnError func(err *core.Error)
	// OnWarning receives non-fatal server warnings.
	OnWarning func(message string)
	// OnDisconnect fires when the connection drops, including idle closes.
	OnDisconnect func()
	// OnHistoryChange fires whenever the visible transcript changes.
	OnHistoryChange func(items []history.Item)
}

type sessionState int

const (
	stateInactive sessionState = iota
	stateActivating
	stateActive
	stateClosed
)

// Session is one logical conversation session. It owns the transport, the
// playback engine, the capture pipeline and the history reconstructor, and
// survives connection drops: a send against a dropped connection
// transparently re-establishes it under the same session id.
type Session struct {
	client    *Client
	scene     string
	callbacks SessionCallbacks

	transport *session.Transport
	player    *audio.Player
	capture   *audio.Capture
	loopback  *audio.Loopback
	history   *history.Reconstructor

	mu             sync.Mutex
	state          sessionState
	capabilities   protocol.Capabilities
	activationDone chan struct{}
	token          session.Token
	sceneStatus    *protocol.SceneStatus
	characters     map[string]protocol.Agent
	emotions       map[string]string
	cancelled      map[string]struct{}
	conversations  map[string]*conversation.Conversation
	pendingSends   []session.WriteItem
	continuation   *protocol.Continuation
	requestHistory bool
	idleTimer      *time.Timer
	micMuted       bool
	autosaveStop   chan struct{}
}

func newSession(c *Client, props SessionProps) (*Session, error) {
	s := &Session{
		client:         c,
		scene:          props.Scene,
		callbacks:      props.Callbacks,
		state:          stateInactive,
		capabilities:   c.capabilities,
		characters:     make(map[string]protocol.Agent),
		emotions:       make(map[string]string),
		cancelled:      make(map[string]struct{}),
		conversations:  make(map[string]*conversation.Conversation),
		continuation:   props.Continuation,
		requestHistory: props.RequestHistory,
	}

	if c.device != nil {
		player, err := audio.NewPlayer(c.device, c.stopRamp)
		if err != nil {
			return nil, err
		}
		s.player = player
	}
	if c.captureSource != nil {
		capture, err := audio.NewCapture(c.captureSource, audio.DefaultCaptureInterval)
		if err != nil {
			return nil, err
		}
		s.capture = capture
	}
	if c.pairer != nil {
		loopback, err := audio.NewLoopback(c.pairer, false)
		if err != nil {
			return nil, err
		}
		s.loopback = loopback
	}

	s.history = history.New(history.Config{
		Queue:         s,
		PlayerName:    c.playerName,
		CharacterName: s.characterDisplayName,
		EmotionCode:   s.emotionCode,
	})

	s.transport = session.NewTransport(c.gateway, session.Callbacks{
		OnPacket:     s.onPacket,
		OnError:      s.onError,
		OnDisconnect: s.onDisconnect,
	})
	return s, nil
}

// HasPacketInQueue implements history.AudioQueue over the playback engine.
func (s *Session) HasPacketInQueue(interactionID, utteranceID string) bool {
	if s.player == nil {
		return false
	}
	return s.player.HasPacketInQueue(audio.Filter{InteractionID: interactionID, UtteranceID: utteranceID})
}

// IsCurrentPacket implements history.AudioQueue over the playback engine.
func (s *Session) IsCurrentPacket(interactionID string) bool {
	if s.player == nil {
		return false
	}
	return s.player.IsCurrentPacket(audio.Filter{InteractionID: interactionID})
}

func (s *Session) characterDisplayName(brainName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.characters[brainName]
	if !ok {
		return ""
	}
	if agent.DisplayName != "" {
		return agent.DisplayName
	}
	return agent.GivenName
}

func (s *Session) emotionCode(interactionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emotions[interactionID]
}

// Open establishes the connection if needed. It is idempotent: while an
// activation is already in flight the call blocks on its outcome instead of
// starting a second one.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return core.NewSessionError("session is closed")
	case stateActive:
		s.mu.Unlock()
		return nil
	case stateActivating:
		done := s.activationDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return core.NewSessionError("session open cancelled: " + ctx.Err().Error())
		}
		// Re-check; the in-flight activation may have failed.
		s.mu.Lock()
		active := s.state == stateActive
		s.mu.Unlock()
		if active {
			return nil
		}
		return core.NewSessionError("session activation failed")
	}

	// Inactive: this caller owns the activation.
	s.state = stateActivating
	s.activationDone = make(chan struct{})
	s.mu.Unlock()
	return s.activate(ctx)
}

func (s *Session) activate(ctx context.Context) error {
	if s.client.tracer != nil {
		var span trace.Span
		ctx, span = s.client.tracer.Start(ctx, "session.open")
		defer span.End()
	}
	err := s.doActivate(ctx)

	s.mu.Lock()
	if err != nil {
		s.state = stateInactive
	} else {
		s.state = stateActive
	}
	done := s.activationDone
	pending := s.pendingSends
	s.pendingSends = nil
	s.mu.Unlock()
	close(done)

	if err != nil {
		return err
	}

	for _, item := range pending {
		if werr := s.transport.Write(item); werr != nil {
			s.client.logger.Warn("replaying queued packet failed", "error", werr)
		}
	}
	s.touchIdleTimer()
	s.startAutosave()
	return nil
}

func (s *Session) doActivate(ctx context.Context) error {
	token, err := s.freshToken(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	firstOpen := s.sceneStatus == nil
	continuation := s.continuation
	requestHistory := s.requestHistory
	scene := s.scene
	capabilities := s.capabilities
	s.mu.Unlock()

	if !firstOpen {
		return s.transport.ReopenSession(ctx, token)
	}

	props := session.OpenProps{
		Token:        token,
		Name:         scene,
		Capabilities: capabilities,
		Client:       s.client.clientConfig,
		User:         s.client.user,
		Continuation: continuation,
	}
	if s.client.gameSessionID != "" {
		props.Session = &protocol.SessionConfig{GameSessionID: s.client.gameSessionID}
	}
	props.RequestHistory = requestHistory && continuation != nil

	status, serverHistory, err := s.transport.OpenSession(ctx, props)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sceneStatus = status
	for _, agent := range status.Agents {
		s.characters[agent.BrainName] = agent
	}
	s.mu.Unlock()

	if serverHistory != nil {
		s.seedHistory(serverHistory)
	}
	s.client.logger.Info("session opened",
		"scene", status.SceneName, "agents", len(status.Agents))
	return nil
}

// freshToken returns a token valid beyond the configured skew, generating a
// new one when needed. A session id established by an earlier token is
// carried forward so the server resumes the same context.
func (s *Session) freshToken(ctx context.Context) (session.Token, error) {
	s.mu.Lock()
	current := s.token
	s.mu.Unlock()

	if !current.Expired(s.client.tokenSkew) {
		return current, nil
	}

	generated, err := s.client.tokens.GenerateToken(ctx)
	if err != nil {
		return session.Token{}, core.NewAuthenticationError("token generation failed: " + err.Error())
	}
	if generated.SessionID == "" {
		generated.SessionID = current.SessionID
	}

	s.mu.Lock()
	s.token = generated
	s.mu.Unlock()
	return generated, nil
}

func (s *Session) seedHistory(serverHistory *protocol.SessionHistory) {
	for _, item := range serverHistory.Items {
		meta := packets.Metadata{
			ID: packets.NewID(item.InteractionID, ""),
			Routing: packets.Routing{Source: packets.Actor{
				Type: packets.ActorType(item.Actor.Type),
				Name: item.Actor.Name,
			}},
			Date: time.Now().UTC(),
		}
		s.history.AddOrUpdate(packets.Text{Metadata: meta, Text: item.Text, Final: true})
	}
	s.notifyHistory()
}

func (s *Session) notifyHistory() {
	if s.callbacks.OnHistoryChange != nil {
		s.callbacks.OnHistoryChange(s.history.Get())
	}
}

// IsActive reports whether the session currently holds a live connection.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

// SceneStatus returns the status from the most recent load-scene exchange.
func (s *Session) SceneStatus() *protocol.SceneStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sceneStatus
}

// Characters returns the loaded agents.
func (s *Session) Characters() []protocol.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Agent, 0, len(s.characters))
	for _, agent := range s.characters {
		out = append(out, agent)
	}
	return out
}

// History returns the reconstructed transcript items.
func (s *Session) History() []history.Item {
	return s.history.Get()
}

// Transcript renders the reconstructed history as plain text.
func (s *Session) Transcript() string {
	return s.history.Transcript()
}

// stopIdleTimer suspends the auto-disconnect while a send is in flight so it
// cannot drop the connection between the dial and the write.
func (s *Session) stopIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
}

// touchIdleTimer re-arms the auto-disconnect timer after outbound activity.
func (s *Session) touchIdleTimer() {
	d := s.client.autoDisconnect
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(d, s.idleDisconnect)
}

// idleDisconnect drops the connection but keeps the session resumable.
func (s *Session) idleDisconnect() {
	s.mu.Lock()
	if s.state != stateActive {
		s.mu.Unlock()
		return
	}
	s.state = stateInactive
	s.mu.Unlock()

	s.client.logger.Debug("closing idle connection")
	s.transport.Close()
}

func (s *Session) onDisconnect() {
	s.mu.Lock()
	if s.state == stateActive {
		s.state = stateInactive
	}
	s.mu.Unlock()
	if s.callbacks.OnDisconnect != nil {
		s.callbacks.OnDisconnect()
	}
}

func (s *Session) onError(err *core.Error) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

// UpdateSession renegotiates capabilities, the game-session binding or the
// continuation on the live connection, and loads a new scene when name is
// non-empty. The confirming scene status arrives through the regular packet
// flow.
func (s *Session) UpdateSession(ctx context.Context, name string, capabilities *protocol.Capabilities, config *protocol.SessionConfig, continuation *protocol.Continuation) error {
	if name != "" {
		if err := validateSceneName(name); err != nil {
			return err
		}
	}
	if err := s.Open(ctx); err != nil {
		return err
	}
	if err := s.transport.UpdateSession(name, capabilities, config, continuation); err != nil {
		return err
	}
	s.mu.Lock()
	if capabilities != nil {
		s.capabilities = *capabilities
	}
	if name != "" {
		s.scene = name
	}
	s.mu.Unlock()
	s.touchIdleTimer()
	return nil
}

// Close ends the session permanently: the connection is closed, audio is
// torn down and all per-session lookup state is dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.autosaveStop != nil {
		close(s.autosaveStop)
		s.autosaveStop = nil
	}
	s.characters = make(map[string]protocol.Agent)
	s.emotions = make(map[string]string)
	s.cancelled = make(map[string]struct{})
	s.conversations = make(map[string]*conversation.Conversation)
	s.pendingSends = nil
	s.mu.Unlock()

	if s.capture != nil {
		s.capture.Stop()
	}
	if s.loopback != nil {
		s.loopback.Stop()
	}
	if s.player != nil {
		s.player.ClearQueue()
		s.player.Stop()
	}
	s.transport.Close()
}
