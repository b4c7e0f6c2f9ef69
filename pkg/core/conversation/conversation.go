// Package conversation coordinates multi-party conversation membership.
// Sends issued while the service is still confirming the participant set are
// parked and replayed once the conversation turns active.
package conversation

import (
	"context"
	"sync"

	"github.com/parley-ai/parley-go/pkg/core"
	"github.com/parley-ai/parley-go/pkg/core/packets"
)

// State is the conversation lifecycle state.
type State string

const (
	// StateInactive means no conversation-update has been sent yet.
	StateInactive State = "INACTIVE"
	// StateProcessing means an update is in flight and unconfirmed.
	StateProcessing State = "PROCESSING"
	// StateActive means the service confirmed the participant set.
	StateActive State = "ACTIVE"
)

// Sender pushes a packet over the live session.
type Sender func(packet packets.Packet) error

// Config wires a conversation to its session.
type Config struct {
	// Send pushes packets over the live session. Required.
	Send Sender
	// KnownParticipant reports whether the session already knows a
	// participant by name.
	KnownParticipant func(name string) bool
	// AddParticipants asks the session to load participants it does not
	// know yet before the conversation-update goes out.
	AddParticipants func(ctx context.Context, names []string) error
}

// Conversation tracks one conversation id, its participants and lifecycle
// state. Packets handed to Send while the state is PROCESSING are queued and
// flushed on activation rather than dropped.
type Conversation struct {
	id  string
	cfg Config

	mu           sync.Mutex
	state        State
	participants []string
	queue        []packets.Packet
	// activated is replaced on each transition away from ACTIVE; waiters
	// block on the current channel instead of polling.
	activated chan struct{}
}

// New creates a conversation coordinator for the given conversation id.
func New(id string, cfg Config) (*Conversation, error) {
	if id == "" {
		return nil, core.NewConversationError("conversation id must not be empty")
	}
	if cfg.Send == nil {
		return nil, core.NewConversationError("conversation sender must not be nil")
	}
	return &Conversation{
		id:        id,
		cfg:       cfg,
		state:     StateInactive,
		activated: make(chan struct{}),
	}, nil
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Participants returns the last participant set handed to UpdateParticipants.
func (c *Conversation) Participants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.participants...)
}

// IsMultiParty reports whether more than one participant is enrolled.
func (c *Conversation) IsMultiParty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.participants) > 1
}

// UpdateParticipants establishes the new participant set: participants the
// session does not know yet are requested through AddParticipants, a
// conversation-update goes out, and the call suspends until the service
// confirms the set and the conversation is ACTIVE again. While a previous
// update is still PROCESSING the call returns without side effects.
func (c *Conversation) UpdateParticipants(ctx context.Context, participants []string) error {
	c.mu.Lock()
	if c.state == StateProcessing {
		c.mu.Unlock()
		return nil
	}
	c.participants = append([]string(nil), participants...)
	c.state = StateProcessing
	c.activated = make(chan struct{})
	c.mu.Unlock()

	if err := c.resolveUnknown(ctx, participants); err != nil {
		c.revert()
		return err
	}
	if err := c.cfg.Send(buildUpdatePacket(c.id, participants)); err != nil {
		c.revert()
		return err
	}
	return c.WaitActive(ctx)
}

func (c *Conversation) resolveUnknown(ctx context.Context, participants []string) error {
	if c.cfg.KnownParticipant == nil || c.cfg.AddParticipants == nil {
		return nil
	}
	var unknown []string
	for _, name := range participants {
		if !c.cfg.KnownParticipant(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	return c.cfg.AddParticipants(ctx, unknown)
}

func (c *Conversation) revert() {
	c.mu.Lock()
	c.state = StateInactive
	c.mu.Unlock()
}

func buildUpdatePacket(conversationID string, participants []string) packets.Packet {
	event := &packets.ConversationEventPayload{
		ConversationID: conversationID,
		EventType:      packets.ConversationEventUpdated,
	}
	for _, name := range participants {
		event.Participants = append(event.Participants, packets.Actor{
			Type: packets.ActorAgent,
			Name: name,
		})
	}
	meta := packets.NewMetadata(packets.NewID("", conversationID))
	return packets.Control{
		Metadata:     meta,
		Action:       packets.ControlConversationUpdate,
		Conversation: event,
	}
}

// MarkActive records service confirmation of the participant set, flushes
// queued packets in order and wakes all waiters.
func (c *Conversation) MarkActive() {
	c.mu.Lock()
	if c.state == StateActive {
		c.mu.Unlock()
		return
	}
	c.state = StateActive
	queued := c.queue
	c.queue = nil
	close(c.activated)
	c.mu.Unlock()

	for _, packet := range queued {
		_ = c.cfg.Send(packet)
	}
}

// Send pushes a packet into the conversation. In ACTIVE state it goes out
// immediately; in INACTIVE the participant set is established first; in
// PROCESSING the packet is queued for the activation flush.
func (c *Conversation) Send(ctx context.Context, packet packets.Packet) error {
	c.mu.Lock()
	switch c.state {
	case StateActive:
		c.mu.Unlock()
		return c.cfg.Send(packet)
	case StateInactive:
		participants := append([]string(nil), c.participants...)
		c.queue = append(c.queue, packet)
		c.mu.Unlock()
		return c.UpdateParticipants(ctx, participants)
	default:
		c.queue = append(c.queue, packet)
		c.mu.Unlock()
	}
	return c.WaitActive(ctx)
}

// SendNarratedAction sends a narrated action through the conversation.
// Narrated actions are single-recipient; multi-party conversations reject
// them.
func (c *Conversation) SendNarratedAction(ctx context.Context, packet packets.NarratedAction) error {
	if c.IsMultiParty() {
		return core.NewConversationError("narrated actions are not supported in multi-party conversations")
	}
	return c.Send(ctx, packet)
}

// SendCancelResponses sends a cancellation through the conversation. In a
// multi-party conversation the server arbitrates turns, so the cancel is
// silently skipped.
func (c *Conversation) SendCancelResponses(ctx context.Context, packet packets.CancelResponses) error {
	if c.IsMultiParty() {
		return nil
	}
	return c.Send(ctx, packet)
}

// WaitActive blocks until the conversation activates or ctx ends.
func (c *Conversation) WaitActive(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateActive {
		c.mu.Unlock()
		return nil
	}
	activated := c.activated
	c.mu.Unlock()

	select {
	case <-activated:
		return nil
	case <-ctx.Done():
		return core.NewConversationError("conversation did not activate: " + ctx.Err().Error())
	}
}

// Reset returns the conversation to INACTIVE and drops queued packets.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateInactive
	c.queue = nil
	c.activated = make(chan struct{})
}
