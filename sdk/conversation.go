package parley

import (
	"context"

	"github.com/google/uuid"

	"github.com/parley-ai/parley-go/pkg/core/conversation"
	"github.com/parley-ai/parley-go/pkg/core/packets"
	"github.com/parley-ai/parley-go/pkg/core/session"
)

// StartConversation establishes a multi-party exchange with the named
// characters. Participants that are not loaded in the scene yet are requested
// first, then the participant set is sent to the server and the call suspends
// until the server confirms it. Packets issued before confirmation are
// queued, not dropped.
func (s *Session) StartConversation(ctx context.Context, participants []string) (*conversation.Conversation, error) {
	conversationID := uuid.NewString()
	conv, err := conversation.New(conversationID, conversation.Config{
		Send: func(p packets.Packet) error {
			return s.write(context.Background(), session.WriteItem{Packet: p})
		},
		KnownParticipant: s.knowsCharacter,
		AddParticipants:  s.AddCharacters,
	})
	if err != nil {
		return nil, err
	}

	// Registered before the update goes out so the server's confirmation
	// event can find and activate it.
	s.mu.Lock()
	s.conversations[conversationID] = conv
	s.mu.Unlock()

	if err := conv.UpdateParticipants(ctx, participants); err != nil {
		s.mu.Lock()
		delete(s.conversations, conversationID)
		s.mu.Unlock()
		return nil, err
	}
	return conv, nil
}

// Conversation returns a previously started conversation by id.
func (s *Session) Conversation(id string) *conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[id]
}

func (s *Session) knowsCharacter(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.characters[name]
	return ok
}
