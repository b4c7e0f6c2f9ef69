package parley

import (
	"github.com/parley-ai/parley-go/pkg/core/audio"
	"github.com/parley-ai/parley-go/pkg/core/history"
	"github.com/parley-ai/parley-go/pkg/core/packets"
	"github.com/parley-ai/parley-go/pkg/core/protocol"
	"github.com/parley-ai/parley-go/pkg/core/session"
)

// onPacket routes one inbound packet through the playback engine, the
// history reconstructor and the conversation coordinators before forwarding
// it to the application callback.
func (s *Session) onPacket(p packets.Packet) {
	if s.isCancelledInteraction(p.Meta().ID.InteractionID) {
		// A late straggler for a response the player already interrupted:
		// kept out of playback and history, but acknowledged with a cancel
		// so the peer can clean up its side.
		s.ackCancelledStraggler(p)
		return
	}

	switch v := p.(type) {
	case packets.Audio, packets.Silence:
		s.enqueueAudio(p)

	case packets.Text:
		if !s.history.Update(v) {
			if _, ok := s.history.AddOrUpdate(v); !ok {
				break
			}
		}
		s.notifyHistory()

	case packets.Emotion:
		s.mu.Lock()
		s.emotions[v.Meta().ID.InteractionID] = v.Code
		s.mu.Unlock()

	case packets.Control:
		s.onControl(v)

	case packets.NarratedAction:
		if _, ok := s.history.AddOrUpdate(v); ok {
			s.notifyHistory()
		}

	case packets.Trigger, packets.Task:
		if _, ok := s.history.AddOrUpdate(p); ok {
			s.notifyHistory()
		}

	case packets.SceneMutation:
		s.onSceneMutation(v)

	case packets.CancelResponses:
		s.onCancelResponses(v)

	case packets.LatencyReport:
		// Ping from the server; echo the measurement straight back.
		reply := packets.LatencyReport{
			Metadata: packets.NewMetadata(packets.NewID(v.Meta().ID.InteractionID, "")),
			Latency:  v.Latency,
		}
		if err := s.transport.Write(session.WriteItem{Packet: reply}); err != nil {
			s.client.logger.Debug("latency echo failed", "error", err)
		}
	}

	if s.callbacks.OnPacket != nil {
		s.callbacks.OnPacket(p)
	}
}

func (s *Session) ackCancelledStraggler(p packets.Packet) {
	id := p.Meta().ID
	cancel := packets.CancelResponses{
		Metadata:      packets.NewMetadata(packets.NewID(id.InteractionID, id.ConversationID)),
		InteractionID: id.InteractionID,
	}
	if id.UtteranceID != "" {
		cancel.UtteranceIDs = []string{id.UtteranceID}
	}
	if err := s.transport.Write(session.WriteItem{Packet: cancel}); err != nil {
		s.client.logger.Debug("cancel ack for late packet failed", "error", err)
	}
}

func (s *Session) isCancelledInteraction(interactionID string) bool {
	if interactionID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelled[interactionID]
	return ok
}

// enqueueAudio hands a renderable packet to the playback engine, or drops it
// when no playback device was configured.
func (s *Session) enqueueAudio(p packets.Packet) {
	if s.player == nil {
		return
	}
	s.player.AddToQueue(audio.QueueItem{
		Packet: p,
		OnBeforePlaying: func(playing packets.Packet) {
			changed := len(s.history.Display(playing, history.ItemActor)) > 0
			changed = len(s.history.Display(playing, history.ItemNarratedAction)) > 0 || changed
			if changed {
				s.notifyHistory()
			}
		},
		OnAfterPlaying: func(played packets.Packet) {
			if len(s.history.Display(played, history.ItemInteractionEnd)) > 0 {
				s.notifyHistory()
			}
		},
	})
}

func (s *Session) onControl(v packets.Control) {
	switch v.Action {
	case packets.ControlInteractionEnd:
		if _, ok := s.history.AddOrUpdate(v); ok {
			s.notifyHistory()
		}

	case packets.ControlWarning:
		if s.callbacks.OnWarning != nil {
			s.callbacks.OnWarning(v.Description)
		}
		if _, ok := s.history.AddOrUpdate(v); ok {
			s.notifyHistory()
		}

	case packets.ControlTTSPlaybackMute:
		if s.player != nil {
			s.player.Mute(true)
		}

	case packets.ControlTTSPlaybackUnmute:
		if s.player != nil {
			s.player.Mute(false)
		}

	case packets.ControlConversationEvent, packets.ControlConversationUpdate:
		if v.Conversation != nil {
			s.mu.Lock()
			conv := s.conversations[v.Conversation.ConversationID]
			s.mu.Unlock()
			if conv != nil {
				conv.MarkActive()
			}
		}
		if _, ok := s.history.AddOrUpdate(v); ok {
			s.notifyHistory()
		}
	}
}

func (s *Session) onSceneMutation(v packets.SceneMutation) {
	if v.Response && len(v.LoadedCharacters) > 0 {
		s.mu.Lock()
		if v.Name != "" {
			// Changing scene replaces the roster; adding characters grows it.
			s.characters = make(map[string]protocol.Agent)
		}
		for _, agent := range v.LoadedCharacters {
			s.characters[agent.BrainName] = protocol.Agent{
				AgentID:     agent.AgentID,
				BrainName:   agent.BrainName,
				GivenName:   agent.GivenName,
				DisplayName: agent.DisplayName,
			}
		}
		s.mu.Unlock()
	}
	if _, ok := s.history.AddOrUpdate(v); ok {
		s.notifyHistory()
	}
}

// onCancelResponses handles a server-initiated cancellation: the named
// utterances leave the playback queue and the transcript.
func (s *Session) onCancelResponses(v packets.CancelResponses) {
	if v.InteractionID != "" {
		s.mu.Lock()
		s.cancelled[v.InteractionID] = struct{}{}
		s.mu.Unlock()
		if s.player != nil {
			s.player.RemoveFromQueue(audio.Filter{InteractionID: v.InteractionID})
			if s.player.IsCurrentPacket(audio.Filter{InteractionID: v.InteractionID}) {
				s.player.Stop()
			}
		}
	}
	s.history.Filter(history.FilterProps{
		InteractionID: v.InteractionID,
		UtteranceIDs:  v.UtteranceIDs,
	})
	s.notifyHistory()
}
