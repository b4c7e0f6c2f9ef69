// Package protocol defines the wire shapes spoken over the session
// websocket and the conversion to and from the domain packet model.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/parley-ai/parley-go/pkg/core/packets"
)

const ProtocolVersion1 = "1"

// Capabilities enumerates the optional protocol features negotiated during
// the session-open handshake.
type Capabilities struct {
	Audio           bool `json:"audio,omitempty"`
	Emotions        bool `json:"emotions,omitempty"`
	Interruptions   bool `json:"interruptions,omitempty"`
	NarratedActions bool `json:"narrated_actions,omitempty"`
	SilenceEvents   bool `json:"silence_events,omitempty"`
	Triggers        bool `json:"triggers,omitempty"`
	TurnBasedSTT    bool `json:"turn_based_stt,omitempty"`
	Multiagent      bool `json:"multi_agent,omitempty"`
	Logs            bool `json:"logs,omitempty"`
}

// ContinuationType tags the exactly-one-of continuation payload.
type ContinuationType string

const (
	ContinuationExternallySavedState ContinuationType = "externally_saved_state"
	ContinuationDialogHistory        ContinuationType = "dialog_history"
)

// DialogTurn is one prior exchange carried by a dialog-history continuation.
type DialogTurn struct {
	Talker string `json:"talker"`
	Phrase string `json:"phrase"`
}

// Continuation resumes a session from saved state or prior dialog.
type Continuation struct {
	Type                 ContinuationType `json:"continuation_type"`
	ExternallySavedState []byte           `json:"externally_saved_state,omitempty"`
	DialogHistory        []DialogTurn     `json:"dialog_history,omitempty"`
}

// ClientConfig identifies the connecting client build.
type ClientConfig struct {
	ID          string `json:"id,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// UserProfileField is one custom profile entry.
type UserProfileField struct {
	ID    string `json:"field_id"`
	Value string `json:"field_value"`
}

// UserConfig identifies the end user.
type UserConfig struct {
	ID      string             `json:"id,omitempty"`
	Name    string             `json:"name,omitempty"`
	Profile []UserProfileField `json:"profile,omitempty"`
}

// SessionControl is the client-to-server handshake payload. Exactly one
// field is set per packet; the open handshake sends them in a fixed order.
type SessionControl struct {
	Capabilities  *Capabilities  `json:"capabilities_configuration,omitempty"`
	SessionConfig *SessionConfig `json:"session_configuration,omitempty"`
	Client        *ClientConfig  `json:"client_configuration,omitempty"`
	User          *UserConfig    `json:"user_configuration,omitempty"`
	Continuation  *Continuation  `json:"continuation,omitempty"`
	HistoryReq    *struct{}      `json:"session_history_request,omitempty"`
}

// SessionConfig carries the game-session binding.
type SessionConfig struct {
	GameSessionID string `json:"game_session_id,omitempty"`
}

// LoadScene asks the server to load a scene by resource name.
type LoadScene struct {
	Name string `json:"name"`
}

// Agent is one loaded character as reported by the scene status.
type Agent struct {
	AgentID     string `json:"agent_id"`
	BrainName   string `json:"brain_name"`
	GivenName   string `json:"given_name"`
	DisplayName string `json:"display_name,omitempty"`
}

// SceneStatus is the server's response to a load-scene packet.
type SceneStatus struct {
	SceneName string  `json:"scene_name,omitempty"`
	Agents    []Agent `json:"agents"`
}

// HistoryItem is one prior exchange replayed by a session-history response.
type HistoryItem struct {
	Actor         WireActor `json:"actor"`
	Text          string    `json:"text"`
	InteractionID string    `json:"interaction_id,omitempty"`
}

// SessionHistory is the server's response to a session-history request.
type SessionHistory struct {
	Items []HistoryItem `json:"items"`
}

// WirePacketID mirrors packets.PacketID on the wire.
type WirePacketID struct {
	PacketID       string `json:"packet_id"`
	UtteranceID    string `json:"utterance_id,omitempty"`
	InteractionID  string `json:"interaction_id,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// WireActor mirrors packets.Actor on the wire.
type WireActor struct {
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
}

// WireRouting mirrors packets.Routing on the wire.
type WireRouting struct {
	Source  WireActor   `json:"source"`
	Targets []WireActor `json:"targets,omitempty"`
}

type WireText struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// WireDataChunk carries audio bytes or a silence duration.
type WireDataChunk struct {
	Type       string `json:"type"` // "audio" or "silence"
	Chunk      []byte `json:"chunk,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type WireControl struct {
	Action       string                 `json:"action"`
	Description  string                 `json:"description,omitempty"`
	Conversation *WireConversationEvent `json:"conversation_event,omitempty"`
}

type WireConversationEvent struct {
	ConversationID string      `json:"conversation_id"`
	Participants   []WireActor `json:"participants,omitempty"`
	EventType      string      `json:"event_type,omitempty"`
}

type WireEmotion struct {
	Behavior string `json:"behavior,omitempty"`
	Strength string `json:"strength,omitempty"`
	Code     string `json:"code,omitempty"`
}

type WireEvent struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type WireCancelResponses struct {
	InteractionID string   `json:"interaction_id,omitempty"`
	UtteranceIDs  []string `json:"utterance_ids,omitempty"`
}

type WireNarratedAction struct {
	Content string `json:"content"`
}

type WireMutation struct {
	Name                string  `json:"name,omitempty"`
	AddedCharacterNames []string `json:"added_character_names,omitempty"`
	LoadedCharacters    []Agent `json:"loaded_characters,omitempty"`
	Response            bool    `json:"response,omitempty"`
}

type WireEntitiesItemOperation struct {
	Operation string   `json:"operation"`
	ItemIDs   []string `json:"item_ids,omitempty"`
}

type WireOperationStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type WireLatencyReport struct {
	LatencyMS int64 `json:"latency_ms"`
}

// WirePacket is the one-of wire event. Exactly one payload field is set.
type WirePacket struct {
	ID        WirePacketID `json:"packet_id"`
	Routing   *WireRouting `json:"routing,omitempty"`
	Timestamp time.Time    `json:"timestamp,omitzero"`

	Text           *WireText                  `json:"text,omitempty"`
	DataChunk      *WireDataChunk             `json:"data_chunk,omitempty"`
	Control        *WireControl               `json:"control,omitempty"`
	Emotion        *WireEmotion               `json:"emotion,omitempty"`
	Trigger        *WireEvent                 `json:"trigger,omitempty"`
	Task           *WireEvent                 `json:"task,omitempty"`
	Cancel         *WireCancelResponses       `json:"cancel_responses,omitempty"`
	NarratedAction *WireNarratedAction        `json:"narrated_action,omitempty"`
	Mutation       *WireMutation              `json:"mutation,omitempty"`
	Entities       *WireEntitiesItemOperation `json:"entities_item_operation,omitempty"`
	Operation      *WireOperationStatus       `json:"operation_status,omitempty"`
	Latency        *WireLatencyReport         `json:"latency_report,omitempty"`

	SessionControl *SessionControl `json:"session_control,omitempty"`
	LoadScene      *LoadScene      `json:"load_scene,omitempty"`
	SceneStatus    *SceneStatus    `json:"scene_status,omitempty"`
	SessionHistory *SessionHistory `json:"session_history,omitempty"`
}

// ServerError is the error half of an inbound frame.
type ServerError struct {
	Message string              `json:"message"`
	Code    string              `json:"code,omitempty"`
	Details []ServerErrorDetail `json:"details,omitempty"`
}

type ServerErrorDetail struct {
	ErrorType       string `json:"error_type,omitempty"`
	ReconnectType   string `json:"reconnect_type,omitempty"`
	MaxRetries      int    `json:"max_retries,omitempty"`
	ReconnectTimeMS int64  `json:"reconnect_time_ms,omitempty"`
}

// ServerFrame is the envelope of every inbound frame.
type ServerFrame struct {
	Result *WirePacket  `json:"result,omitempty"`
	Error  *ServerError `json:"error,omitempty"`
}

// ParseServerFrame decodes one inbound frame. Unparsable payloads yield an
// error frame rather than a decode failure so the read loop never crashes on
// malformed input.
func ParseServerFrame(data []byte) ServerFrame {
	var frame ServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ServerFrame{Error: &ServerError{Message: "Invalid JSON received", Code: "malformed_message"}}
	}
	if frame.Result == nil && frame.Error == nil {
		return ServerFrame{Error: &ServerError{Message: "Invalid JSON received", Code: "malformed_message"}}
	}
	return frame
}

func actorToWire(a packets.Actor) WireActor {
	return WireActor{Type: string(a.Type), Name: a.Name}
}

func actorFromWire(a WireActor) packets.Actor {
	typ := packets.ActorType(strings.TrimSpace(a.Type))
	switch typ {
	case packets.ActorPlayer, packets.ActorAgent, packets.ActorWorld:
	default:
		typ = packets.ActorUnknown
	}
	return packets.Actor{Type: typ, Name: a.Name}
}

func metaToWire(m packets.Metadata) (WirePacketID, *WireRouting, time.Time) {
	id := WirePacketID{
		PacketID:       m.ID.PacketID,
		UtteranceID:    m.ID.UtteranceID,
		InteractionID:  m.ID.InteractionID,
		CorrelationID:  m.ID.CorrelationID,
		ConversationID: m.ID.ConversationID,
	}
	routing := &WireRouting{Source: actorToWire(m.Routing.Source)}
	for _, target := range m.Routing.Targets {
		routing.Targets = append(routing.Targets, actorToWire(target))
	}
	return id, routing, m.Date
}

func metaFromWire(p WirePacket) packets.Metadata {
	m := packets.Metadata{
		ID: packets.PacketID{
			PacketID:       p.ID.PacketID,
			UtteranceID:    p.ID.UtteranceID,
			InteractionID:  p.ID.InteractionID,
			CorrelationID:  p.ID.CorrelationID,
			ConversationID: p.ID.ConversationID,
		},
		Date: p.Timestamp,
	}
	if p.Routing != nil {
		m.Routing.Source = actorFromWire(p.Routing.Source)
		for _, target := range p.Routing.Targets {
			m.Routing.Targets = append(m.Routing.Targets, actorFromWire(target))
		}
	}
	return m
}

// FromDomain converts a domain packet into its wire shape.
func FromDomain(p packets.Packet) WirePacket {
	id, routing, ts := metaToWire(p.Meta())
	out := WirePacket{ID: id, Routing: routing, Timestamp: ts}

	switch v := p.(type) {
	case packets.Text:
		out.Text = &WireText{Text: v.Text, Final: v.Final}
	case packets.Audio:
		out.DataChunk = &WireDataChunk{Type: "audio", Chunk: v.Chunk}
	case packets.Silence:
		out.DataChunk = &WireDataChunk{Type: "silence", DurationMS: v.Duration.Milliseconds()}
	case packets.Trigger:
		out.Trigger = &WireEvent{Name: v.Name, Parameters: v.Parameters}
	case packets.Task:
		out.Task = &WireEvent{Name: v.Name, Parameters: v.Parameters}
	case packets.Emotion:
		out.Emotion = &WireEmotion{Behavior: v.Behavior, Strength: v.Strength, Code: v.Code}
	case packets.Control:
		out.Control = &WireControl{Action: string(v.Action), Description: v.Description}
		if v.Conversation != nil {
			out.Control.Conversation = &WireConversationEvent{
				ConversationID: v.Conversation.ConversationID,
				EventType:      v.Conversation.EventType,
			}
			for _, participant := range v.Conversation.Participants {
				out.Control.Conversation.Participants = append(out.Control.Conversation.Participants, actorToWire(participant))
			}
		}
	case packets.CancelResponses:
		out.Cancel = &WireCancelResponses{InteractionID: v.InteractionID, UtteranceIDs: v.UtteranceIDs}
	case packets.NarratedAction:
		out.NarratedAction = &WireNarratedAction{Content: v.Text}
	case packets.SceneMutation:
		out.Mutation = &WireMutation{
			Name:                v.Name,
			AddedCharacterNames: v.AddedCharacterNames,
			Response:            v.Response,
		}
		for _, agent := range v.LoadedCharacters {
			out.Mutation.LoadedCharacters = append(out.Mutation.LoadedCharacters, Agent{
				AgentID:     agent.AgentID,
				BrainName:   agent.BrainName,
				GivenName:   agent.GivenName,
				DisplayName: agent.DisplayName,
			})
		}
	case packets.EntitiesItemOperation:
		out.Entities = &WireEntitiesItemOperation{Operation: v.Operation, ItemIDs: v.ItemIDs}
	case packets.OperationStatus:
		out.Operation = &WireOperationStatus{Code: v.Code, Message: v.Message}
	case packets.LatencyReport:
		out.Latency = &WireLatencyReport{LatencyMS: v.Latency.Milliseconds()}
	}
	return out
}

// ToDomain converts an inbound wire packet to a domain packet. Session-level
// frames (scene status, session history, handshake echoes) return ok=false;
// the transport consumes those directly.
func ToDomain(p WirePacket) (packets.Packet, bool) {
	meta := metaFromWire(p)

	switch {
	case p.Text != nil:
		return packets.Text{Metadata: meta, Text: p.Text.Text, Final: p.Text.Final}, true
	case p.DataChunk != nil && p.DataChunk.Type == "silence":
		return packets.Silence{Metadata: meta, Duration: time.Duration(p.DataChunk.DurationMS) * time.Millisecond}, true
	case p.DataChunk != nil:
		return packets.Audio{Metadata: meta, Chunk: p.DataChunk.Chunk}, true
	case p.Control != nil:
		control := packets.Control{Metadata: meta, Action: packets.ControlAction(p.Control.Action), Description: p.Control.Description}
		if p.Control.Conversation != nil {
			payload := &packets.ConversationEventPayload{
				ConversationID: p.Control.Conversation.ConversationID,
				EventType:      p.Control.Conversation.EventType,
			}
			for _, participant := range p.Control.Conversation.Participants {
				payload.Participants = append(payload.Participants, actorFromWire(participant))
			}
			control.Conversation = payload
		}
		return control, true
	case p.Emotion != nil:
		return packets.Emotion{Metadata: meta, Behavior: p.Emotion.Behavior, Strength: p.Emotion.Strength, Code: p.Emotion.Code}, true
	case p.Trigger != nil:
		return packets.Trigger{Metadata: meta, Name: p.Trigger.Name, Parameters: p.Trigger.Parameters}, true
	case p.Task != nil:
		return packets.Task{Metadata: meta, Name: p.Task.Name, Parameters: p.Task.Parameters}, true
	case p.Cancel != nil:
		return packets.CancelResponses{Metadata: meta, InteractionID: p.Cancel.InteractionID, UtteranceIDs: p.Cancel.UtteranceIDs}, true
	case p.NarratedAction != nil:
		return packets.NarratedAction{Metadata: meta, Text: p.NarratedAction.Content}, true
	case p.Mutation != nil:
		mutation := packets.SceneMutation{
			Metadata:            meta,
			Name:                p.Mutation.Name,
			AddedCharacterNames: p.Mutation.AddedCharacterNames,
			Response:            p.Mutation.Response,
		}
		for _, agent := range p.Mutation.LoadedCharacters {
			mutation.LoadedCharacters = append(mutation.LoadedCharacters, packets.AgentInfo{
				AgentID:     agent.AgentID,
				BrainName:   agent.BrainName,
				GivenName:   agent.GivenName,
				DisplayName: agent.DisplayName,
			})
		}
		return mutation, true
	case p.Entities != nil:
		return packets.EntitiesItemOperation{Metadata: meta, Operation: p.Entities.Operation, ItemIDs: p.Entities.ItemIDs}, true
	case p.Operation != nil:
		return packets.OperationStatus{Metadata: meta, Code: p.Operation.Code, Message: p.Operation.Message}, true
	case p.Latency != nil:
		return packets.LatencyReport{Metadata: meta, Latency: time.Duration(p.Latency.LatencyMS) * time.Millisecond}, true
	default:
		return nil, false
	}
}
