// Package session implements the duplex websocket transport for one logical
// session: the open handshake, packet writes with interruption hooks, and
// inbound frame dispatch.
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley-go/pkg/core"
	"github.com/parley-ai/parley-go/pkg/core/packets"
	"github.com/parley-ai/parley-go/pkg/core/protocol"
)

const defaultOpenTimeout = 15 * time.Second

// Gateway locates the session endpoint.
type Gateway struct {
	Hostname string
	SSL      bool
}

// URL returns the websocket endpoint for the gateway.
func (g Gateway) URL() (string, error) {
	host := strings.TrimSpace(g.Hostname)
	if host == "" {
		return "", core.NewInvalidRequestError("gateway hostname must not be empty")
	}
	scheme := "ws"
	if g.SSL {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/v1/session"}
	return u.String(), nil
}

// Callbacks receive inbound transport events. OnDisconnect fires exactly
// once per connection, whether the close was local or remote.
type Callbacks struct {
	OnPacket     func(packets.Packet)
	OnError      func(*core.Error)
	OnDisconnect func()
}

// OpenProps configures the session-open handshake.
type OpenProps struct {
	Token        Token
	Name         string
	Capabilities protocol.Capabilities
	Session      *protocol.SessionConfig
	Client       *protocol.ClientConfig
	User         *protocol.UserConfig
	Continuation *protocol.Continuation
	// RequestHistory asks for the server-side dialog history after the
	// scene status arrives. Only honored when a continuation was supplied.
	RequestHistory bool
}

// WriteItem is one outbound packet plus the hooks the controller uses to
// interleave interruption side effects with the literal wire send.
type WriteItem struct {
	Packet        packets.Packet
	BeforeWriting func(packets.Packet) error
	AfterWriting  func(packets.Packet)
}

// Transport is the duplex connection abstraction. It owns the websocket and
// serializes all writes; reads are dispatched from a single goroutine.
type Transport struct {
	gateway   Gateway
	dialer    *websocket.Dialer
	callbacks Callbacks

	writeMu sync.Mutex
	conn    *websocket.Conn

	closed       atomic.Bool
	disconnected sync.Once
	loopDone     chan struct{}
}

// NewTransport creates a transport for the gateway. The transport is inert
// until OpenSession or ReopenSession succeeds.
func NewTransport(gateway Gateway, callbacks Callbacks) *Transport {
	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}
	return &Transport{
		gateway:   gateway,
		dialer:    dialer,
		callbacks: callbacks,
	}
}

func (t *Transport) dial(ctx context.Context, token Token) error {
	wsURL, err := t.gateway.URL()
	if err != nil {
		return err
	}

	headers := make(http.Header)
	if token.Token != "" {
		headers.Set("Authorization", strings.TrimSpace(token.Type+" "+token.Token))
	}
	if token.SessionID != "" {
		headers.Set("Grpc-Metadata-Session-Id", token.SessionID)
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultOpenTimeout)
		defer cancel()
	}

	conn, resp, err := t.dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return &TransportError{Op: "GET", URL: wsURL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return &TransportError{Op: "GET", URL: wsURL, Err: err}
	}

	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()
	t.closed.Store(false)
	t.disconnected = sync.Once{}
	t.loopDone = make(chan struct{})
	return nil
}

// OpenSession establishes the duplex channel and performs the fixed
// handshake sequence: capabilities, optional game-session configuration,
// client configuration, user configuration, optional continuation, then
// load-scene. It resolves once the scene status (and, when requested, the
// session history) has arrived, then hands the connection to the read loop.
func (t *Transport) OpenSession(ctx context.Context, props OpenProps) (*protocol.SceneStatus, *protocol.SessionHistory, error) {
	if strings.TrimSpace(props.Name) == "" {
		return nil, nil, core.NewInvalidRequestError("scene name must not be empty")
	}
	if err := t.dial(ctx, props.Token); err != nil {
		return nil, nil, err
	}

	handshake := []protocol.WirePacket{
		{SessionControl: &protocol.SessionControl{Capabilities: &props.Capabilities}},
	}
	if props.Session != nil {
		handshake = append(handshake, protocol.WirePacket{SessionControl: &protocol.SessionControl{SessionConfig: props.Session}})
	}
	client := props.Client
	if client == nil {
		client = &protocol.ClientConfig{}
	}
	user := props.User
	if user == nil {
		user = &protocol.UserConfig{}
	}
	handshake = append(handshake,
		protocol.WirePacket{SessionControl: &protocol.SessionControl{Client: client}},
		protocol.WirePacket{SessionControl: &protocol.SessionControl{User: user}},
	)
	if props.Continuation != nil {
		handshake = append(handshake, protocol.WirePacket{SessionControl: &protocol.SessionControl{Continuation: props.Continuation}})
	}
	handshake = append(handshake, protocol.WirePacket{LoadScene: &protocol.LoadScene{Name: props.Name}})

	for _, frame := range handshake {
		if err := t.writeWire(frame); err != nil {
			t.Close()
			return nil, nil, err
		}
	}

	status, err := t.awaitSceneStatus(ctx)
	if err != nil {
		t.Close()
		return nil, nil, err
	}

	var history *protocol.SessionHistory
	if props.RequestHistory && props.Continuation != nil {
		if err := t.writeWire(protocol.WirePacket{SessionControl: &protocol.SessionControl{HistoryReq: &struct{}{}}}); err != nil {
			t.Close()
			return nil, nil, err
		}
		history, err = t.awaitSessionHistory(ctx)
		if err != nil {
			t.Close()
			return nil, nil, err
		}
	}

	go t.readLoop()
	return status, history, nil
}

// ReopenSession re-dials the transport for an already-loaded scene. The
// handshake is not replayed; the token's session id carries the context.
func (t *Transport) ReopenSession(ctx context.Context, token Token) error {
	if err := t.dial(ctx, token); err != nil {
		return err
	}
	go t.readLoop()
	return nil
}

// UpdateSession sends the update handshake: a session-configuration packet
// mirroring the changed fields, then a fresh load-scene when name changed.
// The new scene status arrives via the regular read loop, so the caller
// observes it through OnPacket-adjacent state rather than a return value.
func (t *Transport) UpdateSession(name string, capabilities *protocol.Capabilities, session *protocol.SessionConfig, continuation *protocol.Continuation) error {
	control := &protocol.SessionControl{}
	if capabilities != nil {
		control.Capabilities = capabilities
	}
	if session != nil {
		control.SessionConfig = session
	}
	if continuation != nil {
		control.Continuation = continuation
	}
	if control.Capabilities != nil || control.SessionConfig != nil || control.Continuation != nil {
		if err := t.writeWire(protocol.WirePacket{SessionControl: control}); err != nil {
			return err
		}
	}
	if strings.TrimSpace(name) != "" {
		return t.writeWire(protocol.WirePacket{LoadScene: &protocol.LoadScene{Name: name}})
	}
	return nil
}

func (t *Transport) awaitFrame(ctx context.Context) (protocol.ServerFrame, error) {
	deadline := time.Now().Add(defaultOpenTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = t.conn.SetReadDeadline(deadline)
	defer t.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return protocol.ServerFrame{}, &TransportError{Op: "READ", Err: err}
		}
		frame := protocol.ParseServerFrame(data)
		if frame.Error != nil {
			return protocol.ServerFrame{}, TranslateServerError(frame.Error)
		}
		return frame, nil
	}
}

func (t *Transport) awaitSceneStatus(ctx context.Context) (*protocol.SceneStatus, error) {
	for {
		frame, err := t.awaitFrame(ctx)
		if err != nil {
			return nil, err
		}
		if frame.Result.SceneStatus != nil {
			return frame.Result.SceneStatus, nil
		}
		t.dispatchResult(frame.Result)
	}
}

func (t *Transport) awaitSessionHistory(ctx context.Context) (*protocol.SessionHistory, error) {
	for {
		frame, err := t.awaitFrame(ctx)
		if err != nil {
			return nil, err
		}
		if frame.Result.SessionHistory != nil {
			return frame.Result.SessionHistory, nil
		}
		t.dispatchResult(frame.Result)
	}
}

// Write serializes one packet. BeforeWriting runs before the frame hits the
// wire and may abort the send; AfterWriting runs once the write returned.
func (t *Transport) Write(item WriteItem) error {
	if item.Packet == nil {
		return core.NewInvalidRequestError("packet must not be nil")
	}
	if t.closed.Load() {
		return core.NewSessionError("transport is closed")
	}
	if item.BeforeWriting != nil {
		if err := item.BeforeWriting(item.Packet); err != nil {
			return err
		}
	}
	if err := t.writeWire(protocol.FromDomain(item.Packet)); err != nil {
		return err
	}
	if item.AfterWriting != nil {
		item.AfterWriting(item.Packet)
	}
	return nil
}

func (t *Transport) writeWire(frame protocol.WirePacket) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return core.NewSessionError("transport is not connected")
	}
	if err := t.conn.WriteJSON(frame); err != nil {
		return &TransportError{Op: "WRITE", Err: err}
	}
	return nil
}

// Close detaches listeners and closes the connection. The disconnect
// callback is signalled exactly once.
func (t *Transport) Close() {
	if t.closed.Swap(true) {
		return
	}
	t.writeMu.Lock()
	conn := t.conn
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		_ = conn.Close()
	}
	t.writeMu.Unlock()
	t.signalDisconnect()
}

func (t *Transport) signalDisconnect() {
	t.disconnected.Do(func() {
		if t.callbacks.OnDisconnect != nil {
			t.callbacks.OnDisconnect()
		}
	})
}

func (t *Transport) emitError(err *core.Error) {
	if t.callbacks.OnError != nil {
		t.callbacks.OnError(err)
	}
}

func (t *Transport) dispatchResult(wire *protocol.WirePacket) {
	if wire == nil {
		return
	}
	packet, ok := protocol.ToDomain(*wire)
	if !ok {
		return
	}
	if t.callbacks.OnPacket != nil {
		t.callbacks.OnPacket(packet)
	}
}

func (t *Transport) readLoop() {
	defer close(t.loopDone)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.emitError(core.NewSessionError(err.Error()))
			}
			t.closed.Store(true)
			t.signalDisconnect()
			return
		}
		frame := protocol.ParseServerFrame(data)
		if frame.Error != nil {
			t.emitError(TranslateServerError(frame.Error))
			continue
		}
		t.dispatchResult(frame.Result)
	}
}

// TranslateServerError converts a structured server error into the typed
// error value forwarded to the caller. Reconnect hints are preserved but
// never acted upon here.
func TranslateServerError(serverErr *protocol.ServerError) *core.Error {
	if serverErr == nil {
		return nil
	}
	out := &core.Error{
		Type:    core.ErrAPI,
		Message: strings.TrimSpace(serverErr.Message),
		Code:    serverErr.Code,
	}
	for _, detail := range serverErr.Details {
		out.Details = append(out.Details, core.ErrorDetail{
			ErrorType:     detail.ErrorType,
			ReconnectType: detail.ReconnectType,
			MaxRetries:    detail.MaxRetries,
			ReconnectTime: time.Duration(detail.ReconnectTimeMS) * time.Millisecond,
		})
	}
	return out
}
