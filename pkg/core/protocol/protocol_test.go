package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/parley-ai/parley-go/pkg/core/packets"
)

func TestParseServerFrame_MalformedInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"not json", "not-json{"},
		{"empty object", "{}"},
		{"wrong shape", `{"unrelated": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := ParseServerFrame([]byte(tt.data))
			if frame.Error == nil {
				t.Fatal("expected an error frame")
			}
			if frame.Error.Code != "malformed_message" {
				t.Errorf("Code = %q, want malformed_message", frame.Error.Code)
			}
		})
	}
}

func TestParseServerFrame_Result(t *testing.T) {
	t.Parallel()

	data := `{"result":{"packet_id":{"packet_id":"p1","interaction_id":"i1"},"text":{"text":"hello","final":true}}}`
	frame := ParseServerFrame([]byte(data))
	if frame.Error != nil {
		t.Fatalf("unexpected error frame: %v", frame.Error)
	}
	packet, ok := ToDomain(*frame.Result)
	if !ok {
		t.Fatal("result frame did not map to a domain packet")
	}
	text, ok := packet.(packets.Text)
	if !ok {
		t.Fatalf("packet = %T, want packets.Text", packet)
	}
	if text.Text != "hello" || !text.Final {
		t.Errorf("text = %+v", text)
	}
	if text.Meta().ID.InteractionID != "i1" {
		t.Errorf("interaction id = %q, want i1", text.Meta().ID.InteractionID)
	}
}

func TestToDomain_DataChunkKinds(t *testing.T) {
	t.Parallel()

	audioWire := WirePacket{
		ID:        WirePacketID{PacketID: "p1"},
		DataChunk: &WireDataChunk{Type: "audio", Chunk: []byte{1, 2}},
	}
	packet, ok := ToDomain(audioWire)
	if !ok {
		t.Fatal("audio chunk did not map")
	}
	if _, isAudio := packet.(packets.Audio); !isAudio {
		t.Fatalf("packet = %T, want packets.Audio", packet)
	}

	silenceWire := WirePacket{
		ID:        WirePacketID{PacketID: "p2"},
		DataChunk: &WireDataChunk{Type: "silence", DurationMS: 750},
	}
	packet, ok = ToDomain(silenceWire)
	if !ok {
		t.Fatal("silence chunk did not map")
	}
	silence, isSilence := packet.(packets.Silence)
	if !isSilence {
		t.Fatalf("packet = %T, want packets.Silence", packet)
	}
	if silence.Duration != 750*time.Millisecond {
		t.Errorf("duration = %v, want 750ms", silence.Duration)
	}
}

func TestToDomain_SessionFramesAreNotPackets(t *testing.T) {
	t.Parallel()

	wire := WirePacket{
		ID:          WirePacketID{PacketID: "p1"},
		SceneStatus: &SceneStatus{SceneName: "castle"},
	}
	if _, ok := ToDomain(wire); ok {
		t.Error("scene status mapped to a domain packet; the transport should consume it")
	}
}

func TestFromDomain_RoundTripsCausalityKey(t *testing.T) {
	t.Parallel()

	original := packets.Text{
		Metadata: packets.NewMetadata(
			packets.NewID("i1", "c1"),
			packets.Actor{Type: packets.ActorAgent, Name: "wizard"},
		),
		Text:  "hi",
		Final: true,
	}

	wire := FromDomain(original)
	data, err := json.Marshal(ServerFrame{Result: &wire})
	if err != nil {
		t.Fatal(err)
	}
	frame := ParseServerFrame(data)
	if frame.Error != nil {
		t.Fatalf("round trip produced error frame: %v", frame.Error)
	}
	restored, ok := ToDomain(*frame.Result)
	if !ok {
		t.Fatal("round trip lost the packet")
	}

	if restored.Meta().ID != original.Meta().ID {
		t.Errorf("causality key changed: got %+v, want %+v", restored.Meta().ID, original.Meta().ID)
	}
	if restored.Meta().Routing.Source.Type != packets.ActorPlayer {
		t.Errorf("source type = %v, want player", restored.Meta().Routing.Source.Type)
	}
	if len(restored.Meta().Routing.Targets) != 1 || restored.Meta().Routing.Targets[0].Name != "wizard" {
		t.Errorf("targets = %+v", restored.Meta().Routing.Targets)
	}
}

func TestActorFromWire_UnknownType(t *testing.T) {
	t.Parallel()

	wire := WirePacket{
		ID:      WirePacketID{PacketID: "p1"},
		Routing: &WireRouting{Source: WireActor{Type: "martian", Name: "zed"}},
		Text:    &WireText{Text: "?"},
	}
	packet, ok := ToDomain(wire)
	if !ok {
		t.Fatal("packet did not map")
	}
	if got := packet.Meta().Routing.Source.Type; got != packets.ActorUnknown {
		t.Errorf("source type = %v, want unknown", got)
	}
}

func TestTranslateConversationControl(t *testing.T) {
	t.Parallel()

	wire := WirePacket{
		ID: WirePacketID{PacketID: "p1", ConversationID: "c1"},
		Control: &WireControl{
			Action: "conversation_event",
			Conversation: &WireConversationEvent{
				ConversationID: "c1",
				EventType:      "updated",
				Participants:   []WireActor{{Type: "agent", Name: "wizard"}},
			},
		},
	}
	packet, ok := ToDomain(wire)
	if !ok {
		t.Fatal("control did not map")
	}
	control, isControl := packet.(packets.Control)
	if !isControl {
		t.Fatalf("packet = %T, want packets.Control", packet)
	}
	if control.Conversation == nil || control.Conversation.ConversationID != "c1" {
		t.Fatalf("conversation payload = %+v", control.Conversation)
	}
	if len(control.Conversation.Participants) != 1 {
		t.Errorf("participants = %+v", control.Conversation.Participants)
	}
}
