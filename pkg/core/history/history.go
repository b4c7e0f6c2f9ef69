// Package history reconstructs a causally-ordered conversation transcript
// from the inbound packet stream. Packets whose audio has not finished
// rendering are parked in a pending queue and promoted by the playback
// engine's before/after hooks, so the visible transcript never runs ahead
// of what the user has actually heard.
package history

import (
	"strings"
	"sync"
	"time"

	"github.com/parley-ai/parley-go/pkg/core/packets"
)

// ItemType discriminates history items.
type ItemType string

const (
	ItemActor              ItemType = "actor"
	ItemNarratedAction     ItemType = "narrated_action"
	ItemTriggerEvent       ItemType = "trigger_event"
	ItemTaskEvent          ItemType = "task_event"
	ItemInteractionEnd     ItemType = "interaction_end"
	ItemSceneChange        ItemType = "scene_change"
	ItemConversationUpdate ItemType = "conversation_update"
	ItemLogEvent           ItemType = "log_event"
)

// Item is one display-ready history entry.
type Item struct {
	Type           ItemType
	ID             string
	Date           time.Time
	InteractionID  string
	ConversationID string
	Source         packets.Actor
	Text           string
	Final          bool
	SceneName      string
	EventName      string
	Participants   []string
}

// AudioQueue is the playback engine view the reconstructor needs to decide
// whether an item may become visible yet.
type AudioQueue interface {
	HasPacketInQueue(interactionID, utteranceID string) bool
	IsCurrentPacket(interactionID string) bool
}

// Config wires the reconstructor to its collaborators. EmotionCode and
// CharacterName are lookup callbacks into state owned by the session
// controller.
type Config struct {
	Queue AudioQueue
	// PlayerName substitutes {player} in outgoing narrated actions.
	PlayerName string
	// CharacterName resolves an agent resource name to its display name.
	CharacterName func(name string) string
	// EmotionCode returns the cached emotion annotation for an interaction,
	// or "" when none is known.
	EmotionCode func(interactionID string) string
}

// Reconstructor merges asynchronous audio and text/event packets into one
// ordered transcript. Two disjoint collections exist per instance: history
// (finalized, displayable) and the pending queue.
type Reconstructor struct {
	cfg Config

	mu           sync.Mutex
	items        []Item
	pending      []Item
	currentScene string
}

// New creates an empty reconstructor.
func New(cfg Config) *Reconstructor {
	return &Reconstructor{cfg: cfg}
}

func (r *Reconstructor) hasQueued(interactionID, utteranceID string) bool {
	if r.cfg.Queue == nil {
		return false
	}
	return r.cfg.Queue.HasPacketInQueue(interactionID, utteranceID)
}

func (r *Reconstructor) isCurrent(interactionID string) bool {
	if r.cfg.Queue == nil {
		return false
	}
	return r.cfg.Queue.IsCurrentPacket(interactionID)
}

// AddOrUpdate places one packet according to the rule table. It returns the
// created item and whether anything was recorded. Re-adding an utterance id
// replaces the earlier item; it never duplicates.
func (r *Reconstructor) AddOrUpdate(packet packets.Packet) (Item, bool) {
	meta := packet.Meta()

	switch v := packet.(type) {
	case packets.Emotion:
		// Cached by the controller, consulted at transcript time; never a
		// history item itself.
		return Item{}, false

	case packets.Text:
		item := r.newItem(ItemActor, meta)
		item.Text = v.Text
		item.Final = v.Final
		toPending := r.hasQueued(meta.ID.InteractionID, meta.ID.UtteranceID)
		r.place(item, toPending)
		return item, true

	case packets.NarratedAction:
		item := r.newItem(ItemNarratedAction, meta)
		item.Text = v.Text
		if meta.Routing.Source.IsPlayer() {
			item.Text = r.substitutePlaceholders(item.Text, meta)
		}
		visible := r.isCurrent(meta.ID.InteractionID) || !r.hasQueued(meta.ID.InteractionID, "")
		r.place(item, !visible)
		return item, true

	case packets.Trigger:
		item := r.newItem(ItemTriggerEvent, meta)
		item.EventName = v.Name
		r.place(item, false)
		return item, true

	case packets.Task:
		item := r.newItem(ItemTaskEvent, meta)
		item.EventName = v.Name
		r.place(item, false)
		return item, true

	case packets.Control:
		return r.addControl(v, meta)

	case packets.SceneMutation:
		if v.Name == "" && !v.Response {
			return Item{}, false
		}
		item := r.newItem(ItemSceneChange, meta)
		item.SceneName = v.Name
		r.mu.Lock()
		if v.Name != "" {
			r.currentScene = v.Name
		}
		r.mu.Unlock()
		r.place(item, false)
		return item, true

	default:
		return Item{}, false
	}
}

func (r *Reconstructor) addControl(v packets.Control, meta packets.Metadata) (Item, bool) {
	switch v.Action {
	case packets.ControlInteractionEnd:
		item := r.newItem(ItemInteractionEnd, meta)
		toPending := r.hasQueued(meta.ID.InteractionID, "")
		r.place(item, toPending)
		return item, true
	case packets.ControlWarning:
		item := r.newItem(ItemLogEvent, meta)
		item.Text = v.Description
		r.place(item, false)
		return item, true
	case packets.ControlConversationEvent, packets.ControlConversationUpdate:
		item := r.newItem(ItemConversationUpdate, meta)
		if v.Conversation != nil {
			for _, participant := range v.Conversation.Participants {
				item.Participants = append(item.Participants, participant.Name)
			}
		}
		r.place(item, false)
		return item, true
	default:
		return Item{}, false
	}
}

func (r *Reconstructor) newItem(t ItemType, meta packets.Metadata) Item {
	id := meta.ID.UtteranceID
	if id == "" {
		id = meta.ID.PacketID
	}
	return Item{
		Type:           t,
		ID:             id,
		Date:           meta.Date,
		InteractionID:  meta.ID.InteractionID,
		ConversationID: meta.ID.ConversationID,
		Source:         meta.Routing.Source,
	}
}

// place inserts the item into history or the pending queue, replacing any
// earlier item with the same id.
func (r *Reconstructor) place(item Item, toPending bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.replaceLocked(&r.items, item) || r.replaceLocked(&r.pending, item) {
		return
	}
	if toPending {
		r.pending = append(r.pending, item)
	} else {
		r.items = append(r.items, item)
	}
}

func (r *Reconstructor) replaceLocked(list *[]Item, item Item) bool {
	for i := range *list {
		if (*list)[i].ID == item.ID {
			(*list)[i] = item
			return true
		}
	}
	return false
}

func (r *Reconstructor) substitutePlaceholders(text string, meta packets.Metadata) string {
	character := ""
	for _, target := range meta.Routing.Targets {
		if target.IsAgent() {
			character = target.Name
			break
		}
	}
	if r.cfg.CharacterName != nil {
		if resolved := r.cfg.CharacterName(character); resolved != "" {
			character = resolved
		}
	}
	text = strings.ReplaceAll(text, "{character}", character)
	return strings.ReplaceAll(text, "{player}", r.cfg.PlayerName)
}

// Display promotes pending items to history when the playback engine
// reports progress for the given packet. An ACTOR display promotes the one
// matching utterance; INTERACTION_END promotes only when it is the sole
// remaining pending item of its interaction; NARRATED_ACTION promotes every
// pending item sharing the interaction.
func (r *Reconstructor) Display(packet packets.Packet, t ItemType) []Item {
	meta := packet.Meta()
	r.mu.Lock()
	defer r.mu.Unlock()

	var promoted []Item
	switch t {
	case ItemActor:
		promoted = r.promoteLocked(func(item Item) bool {
			return item.ID == meta.ID.UtteranceID
		})
	case ItemInteractionEnd:
		remaining := 0
		for _, item := range r.pending {
			if item.InteractionID == meta.ID.InteractionID {
				remaining++
			}
		}
		if remaining == 1 {
			promoted = r.promoteLocked(func(item Item) bool {
				return item.InteractionID == meta.ID.InteractionID
			})
		}
	case ItemNarratedAction:
		promoted = r.promoteLocked(func(item Item) bool {
			return item.InteractionID == meta.ID.InteractionID
		})
	}
	return promoted
}

func (r *Reconstructor) promoteLocked(match func(Item) bool) []Item {
	var promoted []Item
	kept := r.pending[:0]
	for _, item := range r.pending {
		if match(item) {
			r.items = append(r.items, item)
			promoted = append(promoted, item)
		} else {
			kept = append(kept, item)
		}
	}
	r.pending = kept
	return promoted
}

// Update patches an existing text item in place for streaming partial
// transcription. Unknown utterances are ignored.
func (r *Reconstructor) Update(packet packets.Text) bool {
	id := packet.Meta().ID.UtteranceID
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range []*[]Item{&r.items, &r.pending} {
		for i := range *list {
			if (*list)[i].ID == id && (*list)[i].Type == ItemActor {
				(*list)[i].Text = packet.Text
				(*list)[i].Final = packet.Final
				return true
			}
		}
	}
	return false
}

// FilterProps selects items for removal.
type FilterProps struct {
	UtteranceIDs  []string
	InteractionID string
}

// Filter removes matching items from both history and the pending queue.
// Absent ids are a no-op.
func (r *Reconstructor) Filter(props FilterProps) {
	drop := func(item Item) bool {
		if props.InteractionID != "" && item.InteractionID == props.InteractionID {
			return true
		}
		for _, id := range props.UtteranceIDs {
			if item.ID == id {
				return true
			}
		}
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range []*[]Item{&r.items, &r.pending} {
		kept := (*list)[:0]
		for _, item := range *list {
			if !drop(item) {
				kept = append(kept, item)
			}
		}
		*list = kept
	}
}

// Get returns the finalized history in order.
func (r *Reconstructor) Get() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Item(nil), r.items...)
}

// PendingCount reports the number of parked items.
func (r *Reconstructor) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// CurrentScene returns the scene most recently confirmed by a mutation.
func (r *Reconstructor) CurrentScene() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentScene
}

// Clear drops all state.
func (r *Reconstructor) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
	r.pending = nil
}
