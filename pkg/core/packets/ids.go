package packets

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh causality key scoped to an interaction. Utterance
// and packet ids are always newly generated; the interaction id is reused
// when continuing an existing interaction and generated otherwise.
func NewID(interactionID, conversationID string) PacketID {
	if interactionID == "" {
		interactionID = uuid.NewString()
	}
	return PacketID{
		PacketID:       uuid.NewString(),
		UtteranceID:    uuid.NewString(),
		InteractionID:  interactionID,
		ConversationID: conversationID,
	}
}

// NewMetadata builds outgoing packet metadata routed from the player.
func NewMetadata(id PacketID, targets ...Actor) Metadata {
	return Metadata{
		ID: id,
		Routing: Routing{
			Source:  Actor{Type: ActorPlayer},
			Targets: targets,
		},
		Date: time.Now().UTC(),
	}
}
