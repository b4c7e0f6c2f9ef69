// Package packets defines the immutable value types exchanged with the
// session gateway. Every wire event maps to exactly one concrete Packet
// type; classification is by the sealed union, not structural inference.
package packets

import (
	"time"
)

// PacketID is the causality key carried by every packet.
//
// UtteranceID identifies one unit of speech or text. InteractionID groups
// all packets produced in response to one stimulus. ConversationID scopes a
// packet to a multi-party exchange. Only PacketID is guaranteed for inbound
// packets; control and session packets may omit the rest.
type PacketID struct {
	PacketID       string
	UtteranceID    string
	InteractionID  string
	CorrelationID  string
	ConversationID string
}

// ActorType identifies the origin or target kind of a packet.
type ActorType string

const (
	ActorUnknown ActorType = "unknown"
	ActorPlayer  ActorType = "player"
	ActorAgent   ActorType = "agent"
	ActorWorld   ActorType = "world"
)

// Actor identifies one participant on a packet route.
type Actor struct {
	Type ActorType
	Name string
}

// IsPlayer reports whether the actor is the local user.
func (a Actor) IsPlayer() bool { return a.Type == ActorPlayer }

// IsAgent reports whether the actor is a remote character.
func (a Actor) IsAgent() bool { return a.Type == ActorAgent }

// Routing carries the source and targets of a packet.
type Routing struct {
	Source  Actor
	Targets []Actor
}

// Metadata is embedded by every concrete packet type.
type Metadata struct {
	ID      PacketID
	Routing Routing
	Date    time.Time
}

// Meta returns the packet metadata.
func (m Metadata) Meta() Metadata { return m }

// Packet is the sealed union of wire events.
type Packet interface {
	Meta() Metadata
	packetType() string
}

// Text is one (possibly partial) transcript or typed-text event.
type Text struct {
	Metadata
	Text  string
	Final bool
}

func (Text) packetType() string { return "text" }

// Audio carries one chunk of synthesized speech.
type Audio struct {
	Metadata
	Chunk []byte
}

func (Audio) packetType() string { return "audio" }

// Silence asks the playback engine to render quiet for a duration.
type Silence struct {
	Metadata
	Duration time.Duration
}

func (Silence) packetType() string { return "silence" }

// Trigger is a named game/world event.
type Trigger struct {
	Metadata
	Name       string
	Parameters map[string]string
}

func (Trigger) packetType() string { return "trigger" }

// Task is a named long-running server operation event.
type Task struct {
	Metadata
	Name       string
	Parameters map[string]string
}

func (Task) packetType() string { return "task" }

// Emotion reports the speaking character's affect for an interaction.
type Emotion struct {
	Metadata
	Behavior string
	Strength string
	// Code is the short annotation rendered in transcripts.
	Code string
}

func (Emotion) packetType() string { return "emotion" }

// ControlAction discriminates Control packets.
type ControlAction string

const (
	ControlInteractionEnd     ControlAction = "interaction_end"
	ControlTTSPlaybackStart   ControlAction = "tts_playback_start"
	ControlTTSPlaybackEnd     ControlAction = "tts_playback_end"
	ControlTTSPlaybackMute    ControlAction = "tts_playback_mute"
	ControlTTSPlaybackUnmute  ControlAction = "tts_playback_unmute"
	ControlWarning            ControlAction = "warning"
	ControlConversationEvent  ControlAction = "conversation_event"
	ControlConversationUpdate ControlAction = "conversation_update"
)

// Conversation event types reported by the service.
const (
	ConversationEventStarted = "started"
	ConversationEventUpdated = "updated"
	ConversationEventEvicted = "evicted"
)

// ConversationEventPayload describes a conversation membership change.
type ConversationEventPayload struct {
	ConversationID string
	Participants   []Actor
	EventType      string
}

// Control is a session/flow control event.
type Control struct {
	Metadata
	Action       ControlAction
	Description  string
	Conversation *ConversationEventPayload
}

func (Control) packetType() string { return "control" }

// CancelResponses signals that in-flight responses should be discarded by
// both peers.
type CancelResponses struct {
	Metadata
	InteractionID string
	UtteranceIDs  []string
}

func (CancelResponses) packetType() string { return "cancel_responses" }

// NarratedAction is a described (non-spoken) action by a participant.
type NarratedAction struct {
	Metadata
	Text string
}

func (NarratedAction) packetType() string { return "narrated_action" }

// AgentInfo describes one character loaded into the scene.
type AgentInfo struct {
	AgentID     string
	BrainName   string
	GivenName   string
	DisplayName string
}

// SceneMutation is a scene-change or add-characters request or response.
type SceneMutation struct {
	Metadata
	// Name is the destination scene for a change-scene request.
	Name string
	// AddedCharacterNames lists characters requested to join.
	AddedCharacterNames []string
	// LoadedCharacters is populated on responses.
	LoadedCharacters []AgentInfo
	Response         bool
}

func (SceneMutation) packetType() string { return "scene_mutation" }

// EntitiesItemOperation mutates world entity items.
type EntitiesItemOperation struct {
	Metadata
	Operation string
	ItemIDs   []string
}

func (EntitiesItemOperation) packetType() string { return "entities_item_operation" }

// OperationStatus reports the outcome of a prior client operation.
type OperationStatus struct {
	Metadata
	Code    int
	Message string
}

func (OperationStatus) packetType() string { return "operation_status" }

// LatencyReport carries a perceived-latency measurement.
type LatencyReport struct {
	Metadata
	Latency time.Duration
}

func (LatencyReport) packetType() string { return "latency_report" }
