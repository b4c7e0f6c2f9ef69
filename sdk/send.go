package parley

import (
	"context"
	"strings"
	"time"

	"github.com/parley-ai/parley-go/pkg/core"
	"github.com/parley-ai/parley-go/pkg/core/history"
	"github.com/parley-ai/parley-go/pkg/core/packets"
	"github.com/parley-ai/parley-go/pkg/core/session"
)

// agentTargets returns the routing targets for a broadcast to the scene.
func (s *Session) agentTargets() []packets.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]packets.Actor, 0, len(s.characters))
	for _, agent := range s.characters {
		out = append(out, packets.Actor{Type: packets.ActorAgent, Name: agent.BrainName})
	}
	return out
}

func (s *Session) isMultiParty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.characters) > 1
}

// write suspends the idle timer, ensures the connection is up, sends the
// item and re-arms the timer. The write returning without error is the
// delivery acknowledgement.
func (s *Session) write(ctx context.Context, item session.WriteItem) error {
	s.stopIdleTimer()
	if err := s.Open(ctx); err != nil {
		return err
	}
	if err := s.transport.Write(item); err != nil {
		return err
	}
	s.touchIdleTimer()
	return nil
}

// SendText sends a typed utterance. When interruptions are negotiated, any
// response currently rendering for an older interaction is cancelled before
// the text hits the wire: its packets leave the playback queue, a
// cancel-responses packet tells the server to stop producing, and the
// cancelled items leave the transcript.
func (s *Session) SendText(ctx context.Context, text string) (packets.Text, error) {
	if strings.TrimSpace(text) == "" {
		return packets.Text{}, core.NewInvalidRequestError("text must not be empty")
	}

	packet := packets.Text{
		Metadata: packets.NewMetadata(packets.NewID("", ""), s.agentTargets()...),
		Text:     text,
		Final:    true,
	}
	item := session.WriteItem{
		Packet: packet,
		BeforeWriting: func(p packets.Packet) error {
			s.interruptFor(p.Meta().ID.InteractionID)
			return nil
		},
		AfterWriting: func(p packets.Packet) {
			if _, ok := s.history.AddOrUpdate(p); ok {
				s.notifyHistory()
			}
		},
	}
	if err := s.write(ctx, item); err != nil {
		return packets.Text{}, err
	}
	return packet, nil
}

// interruptFor cancels the response being rendered when it belongs to an
// interaction other than newInteractionID. Multi-party scenes skip the
// cancel-responses packet; the server arbitrates turns there.
func (s *Session) interruptFor(newInteractionID string) {
	s.mu.Lock()
	interruptions := s.capabilities.Interruptions
	s.mu.Unlock()
	if !interruptions || s.player == nil {
		return
	}
	excluded := s.player.ExcludeCurrentInteractionPackets(newInteractionID)
	if len(excluded) == 0 {
		return
	}

	cancelledInteraction := excluded[0].Meta().ID.InteractionID
	utteranceIDs := make([]string, 0, len(excluded))
	for _, p := range excluded {
		if id := p.Meta().ID.UtteranceID; id != "" {
			utteranceIDs = append(utteranceIDs, id)
		}
	}

	s.mu.Lock()
	s.cancelled[cancelledInteraction] = struct{}{}
	s.mu.Unlock()

	s.player.Stop()
	s.history.Filter(history.FilterProps{InteractionID: cancelledInteraction, UtteranceIDs: utteranceIDs})
	s.notifyHistory()

	if s.isMultiParty() {
		return
	}
	cancel := packets.CancelResponses{
		Metadata:      packets.NewMetadata(packets.NewID(cancelledInteraction, ""), s.agentTargets()...),
		InteractionID: cancelledInteraction,
		UtteranceIDs:  utteranceIDs,
	}
	if err := s.transport.Write(session.WriteItem{Packet: cancel}); err != nil {
		s.client.logger.Warn("cancel responses failed", "error", err)
	}
}

// SendAudioChunk ships one captured audio chunk. Unlike the blocking sends
// it never dials: chunks produced while the connection is re-establishing
// are queued and replayed on activation.
func (s *Session) SendAudioChunk(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	packet := packets.Audio{
		Metadata: packets.NewMetadata(packets.NewID("", ""), s.agentTargets()...),
		Chunk:    chunk,
	}
	item := session.WriteItem{Packet: packet}

	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return core.NewSessionError("session is closed")
	case stateActive:
		s.mu.Unlock()
		if err := s.transport.Write(item); err != nil {
			return err
		}
		s.touchIdleTimer()
		return nil
	default:
		s.pendingSends = append(s.pendingSends, item)
		s.mu.Unlock()
		return nil
	}
}

// SendTrigger fires a named world event.
func (s *Session) SendTrigger(ctx context.Context, name string, parameters map[string]string) error {
	if strings.TrimSpace(name) == "" {
		return core.NewInvalidRequestError("trigger name must not be empty")
	}
	packet := packets.Trigger{
		Metadata:   packets.NewMetadata(packets.NewID("", ""), s.agentTargets()...),
		Name:       name,
		Parameters: parameters,
	}
	return s.write(ctx, session.WriteItem{
		Packet: packet,
		AfterWriting: func(p packets.Packet) {
			if _, ok := s.history.AddOrUpdate(p); ok {
				s.notifyHistory()
			}
		},
	})
}

// SendNarratedAction describes a non-spoken action by the player. The
// {character} and {player} placeholders are substituted in the transcript.
// Multi-party scenes do not support narrated actions.
func (s *Session) SendNarratedAction(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return core.NewInvalidRequestError("narrated action text must not be empty")
	}
	if s.isMultiParty() {
		return core.NewConversationError("narrated actions are not supported in multi-party conversations")
	}
	packet := packets.NarratedAction{
		Metadata: packets.NewMetadata(packets.NewID("", ""), s.agentTargets()...),
		Text:     text,
	}
	return s.write(ctx, session.WriteItem{
		Packet: packet,
		AfterWriting: func(p packets.Packet) {
			if _, ok := s.history.AddOrUpdate(p); ok {
				s.notifyHistory()
			}
		},
	})
}

// MarkInteractionEnd tells the server the player considers the interaction
// finished, used with turn-based speech capture.
func (s *Session) MarkInteractionEnd(ctx context.Context, interactionID string) error {
	packet := packets.Control{
		Metadata: packets.NewMetadata(packets.NewID(interactionID, "")),
		Action:   packets.ControlInteractionEnd,
	}
	return s.write(ctx, session.WriteItem{Packet: packet})
}

// ChangeScene asks the server to replace the scene. The confirming mutation
// response updates the character roster and the transcript.
func (s *Session) ChangeScene(ctx context.Context, name string) error {
	if err := validateSceneName(name); err != nil {
		return err
	}
	packet := packets.SceneMutation{
		Metadata: packets.NewMetadata(packets.NewID("", "")),
		Name:     name,
	}
	return s.write(ctx, session.WriteItem{Packet: packet})
}

// AddCharacters asks the server to load additional characters into the
// current scene.
func (s *Session) AddCharacters(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return core.NewInvalidRequestError("at least one character name is required")
	}
	packet := packets.SceneMutation{
		Metadata:            packets.NewMetadata(packets.NewID("", "")),
		AddedCharacterNames: names,
	}
	return s.write(ctx, session.WriteItem{Packet: packet})
}

// Interrupt stops the active render with the configured fade and cancels the
// rest of its interaction, as if the player had started speaking.
func (s *Session) Interrupt() {
	s.interruptFor("")
}

// SendLatencyReport reports a perceived round-trip latency measurement.
func (s *Session) SendLatencyReport(ctx context.Context, latency time.Duration) error {
	packet := packets.LatencyReport{
		Metadata: packets.NewMetadata(packets.NewID("", "")),
		Latency:  latency,
	}
	return s.write(ctx, session.WriteItem{Packet: packet})
}
