package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley-go/pkg/core"
	"github.com/parley-ai/parley-go/pkg/core/packets"
	"github.com/parley-ai/parley-go/pkg/core/protocol"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// startGateway runs a scripted websocket server and returns its Gateway.
func startGateway(t *testing.T, handler func(t *testing.T, r *http.Request, conn *websocket.Conn)) Gateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(t, r, conn)
	}))
	t.Cleanup(srv.Close)
	return Gateway{Hostname: strings.TrimPrefix(srv.URL, "http://"), SSL: false}
}

func readWire(t *testing.T, conn *websocket.Conn) protocol.WirePacket {
	t.Helper()
	var frame protocol.WirePacket
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("reading client frame: %v", err)
	}
	return frame
}

func sendResult(t *testing.T, conn *websocket.Conn, result protocol.WirePacket) {
	t.Helper()
	if err := conn.WriteJSON(protocol.ServerFrame{Result: &result}); err != nil {
		t.Fatalf("writing server frame: %v", err)
	}
}

func testToken() Token {
	return Token{
		Token:          "tok-123",
		Type:           "Bearer",
		SessionID:      "sess-1",
		ExpirationTime: time.Now().Add(time.Hour),
	}
}

func TestGateway_URL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		gateway Gateway
		want    string
		wantErr bool
	}{
		{"plain", Gateway{Hostname: "example.com"}, "ws://example.com/v1/session", false},
		{"ssl", Gateway{Hostname: "example.com", SSL: true}, "wss://example.com/v1/session", false},
		{"empty", Gateway{}, "", true},
		{"whitespace", Gateway{Hostname: "   "}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.gateway.URL()
			if (err != nil) != tt.wantErr {
				t.Fatalf("URL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenSession_HandshakeOrderAndAuth(t *testing.T) {
	t.Parallel()

	gateway := startGateway(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Grpc-Metadata-Session-Id"); got != "sess-1" {
			t.Errorf("session id header = %q", got)
		}

		first := readWire(t, conn)
		if first.SessionControl == nil || first.SessionControl.Capabilities == nil {
			t.Errorf("first frame is not capabilities: %+v", first)
		}
		second := readWire(t, conn)
		if second.SessionControl == nil || second.SessionControl.Client == nil {
			t.Errorf("second frame is not client config: %+v", second)
		}
		third := readWire(t, conn)
		if third.SessionControl == nil || third.SessionControl.User == nil {
			t.Errorf("third frame is not user config: %+v", third)
		}
		fourth := readWire(t, conn)
		if fourth.LoadScene == nil || fourth.LoadScene.Name != "castle" {
			t.Errorf("fourth frame is not load scene: %+v", fourth)
		}

		sendResult(t, conn, protocol.WirePacket{SceneStatus: &protocol.SceneStatus{
			SceneName: "castle",
			Agents:    []protocol.Agent{{AgentID: "a1", BrainName: "wizard", GivenName: "Merlin"}},
		}})
		// Keep the connection open for the read loop handoff.
		time.Sleep(50 * time.Millisecond)
	})

	transport := NewTransport(gateway, Callbacks{})
	status, history, err := transport.OpenSession(t.Context(), OpenProps{
		Token:        testToken(),
		Name:         "castle",
		Capabilities: protocol.Capabilities{Audio: true},
	})
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer transport.Close()

	if history != nil {
		t.Error("history returned without a request")
	}
	if status.SceneName != "castle" || len(status.Agents) != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestOpenSession_ContinuationAndHistory(t *testing.T) {
	t.Parallel()

	gateway := startGateway(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		var sawContinuation bool
		for {
			frame := readWire(t, conn)
			if frame.SessionControl != nil && frame.SessionControl.Continuation != nil {
				sawContinuation = true
			}
			if frame.LoadScene != nil {
				break
			}
		}
		if !sawContinuation {
			t.Error("continuation was not sent before load scene")
		}

		sendResult(t, conn, protocol.WirePacket{SceneStatus: &protocol.SceneStatus{SceneName: "castle"}})

		req := readWire(t, conn)
		if req.SessionControl == nil || req.SessionControl.HistoryReq == nil {
			t.Errorf("expected a history request, got %+v", req)
		}
		sendResult(t, conn, protocol.WirePacket{SessionHistory: &protocol.SessionHistory{
			Items: []protocol.HistoryItem{{Actor: protocol.WireActor{Type: "agent", Name: "wizard"}, Text: "welcome back"}},
		}})
		time.Sleep(50 * time.Millisecond)
	})

	transport := NewTransport(gateway, Callbacks{})
	_, history, err := transport.OpenSession(t.Context(), OpenProps{
		Token: testToken(),
		Name:  "castle",
		Continuation: &protocol.Continuation{
			Type:          protocol.ContinuationDialogHistory,
			DialogHistory: []protocol.DialogTurn{{Talker: "PLAYER", Phrase: "hi"}},
		},
		RequestHistory: true,
	})
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer transport.Close()

	if history == nil || len(history.Items) != 1 || history.Items[0].Text != "welcome back" {
		t.Fatalf("history = %+v", history)
	}
}

func TestOpenSession_EmptySceneName(t *testing.T) {
	t.Parallel()

	transport := NewTransport(Gateway{Hostname: "example.com"}, Callbacks{})
	if _, _, err := transport.OpenSession(t.Context(), OpenProps{Token: testToken()}); err == nil {
		t.Fatal("expected an error for an empty scene name")
	}
}

func TestTransport_ReadLoopDispatchesPacketsAndErrors(t *testing.T) {
	t.Parallel()

	gateway := startGateway(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		for {
			frame := readWire(t, conn)
			if frame.LoadScene != nil {
				break
			}
		}
		sendResult(t, conn, protocol.WirePacket{SceneStatus: &protocol.SceneStatus{SceneName: "castle"}})

		sendResult(t, conn, protocol.WirePacket{
			ID:   protocol.WirePacketID{PacketID: "p1", InteractionID: "i1"},
			Text: &protocol.WireText{Text: "hello", Final: true},
		})
		_ = conn.WriteJSON(protocol.ServerFrame{Error: &protocol.ServerError{
			Message: "session will expire",
			Code:    "expiring",
			Details: []protocol.ServerErrorDetail{{ReconnectType: "immediate", MaxRetries: 3, ReconnectTimeMS: 1500}},
		}})
		time.Sleep(100 * time.Millisecond)
	})

	var mu sync.Mutex
	var gotPacket packets.Packet
	var gotErr *core.Error
	transport := NewTransport(gateway, Callbacks{
		OnPacket: func(p packets.Packet) {
			mu.Lock()
			gotPacket = p
			mu.Unlock()
		},
		OnError: func(err *core.Error) {
			mu.Lock()
			gotErr = err
			mu.Unlock()
		},
	})

	if _, _, err := transport.OpenSession(t.Context(), OpenProps{Token: testToken(), Name: "castle"}); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer transport.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotPacket != nil && gotErr != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	text, ok := gotPacket.(packets.Text)
	if !ok || text.Text != "hello" {
		t.Errorf("packet = %+v", gotPacket)
	}
	if gotErr == nil {
		t.Fatal("server error was not dispatched")
	}
	if gotErr.Code != "expiring" || len(gotErr.Details) != 1 {
		t.Errorf("error = %+v", gotErr)
	}
	if gotErr.Details[0].ReconnectTime != 1500*time.Millisecond {
		t.Errorf("reconnect time = %v", gotErr.Details[0].ReconnectTime)
	}
}

func TestTransport_WriteHooks(t *testing.T) {
	t.Parallel()

	received := make(chan protocol.WirePacket, 1)
	gateway := startGateway(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		for {
			frame := readWire(t, conn)
			if frame.LoadScene != nil {
				break
			}
		}
		sendResult(t, conn, protocol.WirePacket{SceneStatus: &protocol.SceneStatus{SceneName: "castle"}})
		received <- readWire(t, conn)
	})

	transport := NewTransport(gateway, Callbacks{})
	if _, _, err := transport.OpenSession(t.Context(), OpenProps{Token: testToken(), Name: "castle"}); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer transport.Close()

	var order []string
	err := transport.Write(WriteItem{
		Packet: packets.Text{Metadata: packets.NewMetadata(packets.NewID("", "")), Text: "hi"},
		BeforeWriting: func(packets.Packet) error {
			order = append(order, "before")
			return nil
		},
		AfterWriting: func(packets.Packet) {
			order = append(order, "after")
		},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(order) != 2 || order[0] != "before" || order[1] != "after" {
		t.Errorf("hook order = %v", order)
	}

	select {
	case frame := <-received:
		if frame.Text == nil || frame.Text.Text != "hi" {
			t.Errorf("server received %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the packet")
	}
}

func TestTransport_WriteAbortedByHook(t *testing.T) {
	t.Parallel()

	gateway := startGateway(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		for {
			frame := readWire(t, conn)
			if frame.LoadScene != nil {
				break
			}
		}
		sendResult(t, conn, protocol.WirePacket{SceneStatus: &protocol.SceneStatus{SceneName: "castle"}})
		time.Sleep(50 * time.Millisecond)
	})

	transport := NewTransport(gateway, Callbacks{})
	if _, _, err := transport.OpenSession(t.Context(), OpenProps{Token: testToken(), Name: "castle"}); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer transport.Close()

	abort := core.NewInvalidRequestError("aborted")
	err := transport.Write(WriteItem{
		Packet:        packets.Text{Metadata: packets.NewMetadata(packets.NewID("", "")), Text: "never"},
		BeforeWriting: func(packets.Packet) error { return abort },
	})
	if err != abort {
		t.Errorf("Write error = %v, want the hook error", err)
	}
}

func TestTransport_DisconnectSignalledOnce(t *testing.T) {
	t.Parallel()

	gateway := startGateway(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		for {
			frame := readWire(t, conn)
			if frame.LoadScene != nil {
				break
			}
		}
		sendResult(t, conn, protocol.WirePacket{SceneStatus: &protocol.SceneStatus{SceneName: "castle"}})
		time.Sleep(50 * time.Millisecond)
	})

	var mu sync.Mutex
	disconnects := 0
	transport := NewTransport(gateway, Callbacks{
		OnDisconnect: func() {
			mu.Lock()
			disconnects++
			mu.Unlock()
		},
	})
	if _, _, err := transport.OpenSession(t.Context(), OpenProps{Token: testToken(), Name: "castle"}); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	transport.Close()
	transport.Close()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if disconnects != 1 {
		t.Errorf("disconnect fired %d times, want 1", disconnects)
	}
}

func TestToken_Expired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token Token
		skew  time.Duration
		want  bool
	}{
		{"empty token", Token{}, 0, true},
		{"valid", Token{Token: "t", ExpirationTime: time.Now().Add(time.Hour)}, time.Minute, false},
		{"within skew", Token{Token: "t", ExpirationTime: time.Now().Add(30 * time.Second)}, time.Minute, true},
		{"already expired", Token{Token: "t", ExpirationTime: time.Now().Add(-time.Minute)}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.Expired(tt.skew); got != tt.want {
				t.Errorf("Expired(%v) = %v, want %v", tt.skew, got, tt.want)
			}
		})
	}
}

func TestTranslateServerError(t *testing.T) {
	t.Parallel()

	if TranslateServerError(nil) != nil {
		t.Error("nil server error should translate to nil")
	}

	err := TranslateServerError(&protocol.ServerError{
		Message: "  boom  ",
		Code:    "c1",
		Details: []protocol.ServerErrorDetail{{ErrorType: "SESSION_EXPIRED", ReconnectTimeMS: 200}},
	})
	if err.Type != core.ErrAPI || err.Message != "boom" || err.Code != "c1" {
		t.Errorf("translated = %+v", err)
	}
	if len(err.Details) != 1 || err.Details[0].ReconnectTime != 200*time.Millisecond {
		t.Errorf("details = %+v", err.Details)
	}
}
