package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/parley-ai/parley-go/pkg/core"
	"github.com/parley-ai/parley-go/pkg/core/packets"
)

// RampConfig shapes the fade-out applied by Stop. The gain is stepped down
// linearly over Duration in TickCount increments; an abrupt stop would click.
type RampConfig struct {
	Duration  time.Duration
	TickCount int
}

// DefaultRampConfig returns the stop-ramp used when none is configured.
func DefaultRampConfig() RampConfig {
	return RampConfig{Duration: 80 * time.Millisecond, TickCount: 8}
}

// Validate rejects non-positive ramp parameters.
func (c RampConfig) Validate() error {
	if c.Duration <= 0 {
		return core.NewInvalidRequestError(fmt.Sprintf("stop ramp duration must be positive (got %s)", c.Duration))
	}
	if c.TickCount <= 0 {
		return core.NewInvalidRequestError(fmt.Sprintf("stop ramp tick count must be positive (got %d)", c.TickCount))
	}
	return nil
}

// QueueItem is one queued packet plus the hooks the history reconstructor
// uses to learn when the packet's render starts and finishes.
type QueueItem struct {
	Packet          packets.Packet
	OnBeforePlaying func(packets.Packet)
	OnAfterPlaying  func(packets.Packet)
}

// Filter narrows queue queries. Fields that are set must all match.
type Filter struct {
	InteractionID string
	UtteranceID   string
}

func (f Filter) matches(p packets.Packet) bool {
	if p == nil {
		return false
	}
	id := p.Meta().ID
	if f.InteractionID != "" && id.InteractionID != f.InteractionID {
		return false
	}
	if f.UtteranceID != "" && id.UtteranceID != f.UtteranceID {
		return false
	}
	return f.InteractionID != "" || f.UtteranceID != ""
}

// Player renders Audio and Silence packets strictly in arrival order.
// The queue and the current item are owned exclusively by the Player;
// collaborators query and request exclusion, never mutate directly.
type Player struct {
	device Device
	ramp   RampConfig

	mu      sync.Mutex
	queue   []QueueItem
	current *QueueItem
	source  Source
	playing bool
	muted   bool
	// renderSeq invalidates stale onEnded callbacks after a manual stop.
	renderSeq uint64
}

// NewPlayer creates a playback engine on the given device.
func NewPlayer(device Device, ramp RampConfig) (*Player, error) {
	if device == nil {
		return nil, core.NewAudioError("playback device must not be nil")
	}
	if ramp == (RampConfig{}) {
		ramp = DefaultRampConfig()
	}
	if err := ramp.Validate(); err != nil {
		return nil, err
	}
	return &Player{device: device, ramp: ramp}, nil
}

// GetIsActive reports whether anything is rendering or queued.
func (p *Player) GetIsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// AddToQueue appends an item and starts draining if the engine was idle.
func (p *Player) AddToQueue(item QueueItem) {
	if item.Packet == nil {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, item)
	start := !p.playing
	if start {
		p.playing = true
	}
	p.mu.Unlock()

	if start {
		p.playNext()
	}
}

func (p *Player) playNext() {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.current = nil
		p.source = nil
		p.playing = false
		p.mu.Unlock()
		return
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	p.current = &item
	p.playing = true
	p.mu.Unlock()

	buf, err := p.decode(item.Packet)
	if err != nil {
		// Undecodable chunks are skipped; the queue keeps draining.
		p.playNext()
		return
	}

	if item.OnBeforePlaying != nil {
		item.OnBeforePlaying(item.Packet)
	}

	source := p.device.NewSource(buf)

	p.mu.Lock()
	p.source = source
	p.renderSeq++
	seq := p.renderSeq
	if p.muted {
		source.SetGain(0)
	} else {
		source.SetGain(1)
	}
	p.mu.Unlock()

	source.Start(func() {
		p.mu.Lock()
		stale := seq != p.renderSeq
		p.mu.Unlock()
		if stale {
			return
		}
		if item.OnAfterPlaying != nil {
			item.OnAfterPlaying(item.Packet)
		}
		p.playNext()
	})
}

func (p *Player) decode(packet packets.Packet) (Buffer, error) {
	switch v := packet.(type) {
	case packets.Silence:
		return p.device.SilenceBuffer(v.Duration), nil
	case packets.Audio:
		return p.device.Decode(v.Chunk)
	default:
		return nil, core.NewAudioError("packet is not renderable")
	}
}

// Stop fades the active render down to silence over the configured ramp,
// tears the render node down, then resumes draining with the next queued
// item. Calling Stop while idle is a no-op.
func (p *Player) Stop() {
	p.mu.Lock()
	source := p.source
	if source == nil {
		p.mu.Unlock()
		return
	}
	p.renderSeq++
	p.source = nil
	p.current = nil
	muted := p.muted
	p.mu.Unlock()

	p.fadeOut(source, muted)
	p.playNext()
}

func (p *Player) fadeOut(source Source, muted bool) {
	defer source.Stop()
	if muted {
		return
	}
	tick := p.ramp.Duration / time.Duration(p.ramp.TickCount)
	for step := p.ramp.TickCount - 1; step >= 0; step-- {
		source.SetGain(float64(step) / float64(p.ramp.TickCount))
		if step > 0 {
			time.Sleep(tick)
		}
	}
}

// StopForInteraction excludes every queued item (and the current one) whose
// interaction differs from interactionID and returns the excluded packets,
// current-first. If the current item was excluded, draining restarts with
// the interaction's own remaining items.
func (p *Player) StopForInteraction(interactionID string) []packets.Packet {
	var excluded []packets.Packet
	stopCurrent := false

	p.mu.Lock()
	kept := p.queue[:0]
	for _, item := range p.queue {
		if item.Packet.Meta().ID.InteractionID != interactionID {
			excluded = append(excluded, item.Packet)
		} else {
			kept = append(kept, item)
		}
	}
	p.queue = kept
	if p.current != nil && p.current.Packet.Meta().ID.InteractionID != interactionID {
		excluded = append([]packets.Packet{p.current.Packet}, excluded...)
		stopCurrent = true
	}
	p.mu.Unlock()

	if stopCurrent {
		p.Stop()
	}
	return excluded
}

// ExcludeCurrentInteractionPackets removes every queued item sharing the
// current item's interaction id (unless that id equals exceptID) and returns
// the removed packets, with the current item itself first when its
// interaction also differs from exceptID. Rendering is not disturbed.
func (p *Player) ExcludeCurrentInteractionPackets(exceptID string) []packets.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil
	}
	currentInteraction := p.current.Packet.Meta().ID.InteractionID
	if currentInteraction == exceptID {
		return nil
	}

	var excluded []packets.Packet
	kept := p.queue[:0]
	for _, item := range p.queue {
		if item.Packet.Meta().ID.InteractionID == currentInteraction {
			excluded = append(excluded, item.Packet)
		} else {
			kept = append(kept, item)
		}
	}
	p.queue = kept

	return append([]packets.Packet{p.current.Packet}, excluded...)
}

// RemoveFromQueue drops queued items matching the filter and returns their
// packets. The current render is left alone.
func (p *Player) RemoveFromQueue(filter Filter) []packets.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	var removed []packets.Packet
	kept := p.queue[:0]
	for _, item := range p.queue {
		if filter.matches(item.Packet) {
			removed = append(removed, item.Packet)
		} else {
			kept = append(kept, item)
		}
	}
	p.queue = kept
	return removed
}

// HasPacketInQueue reports whether any queued item matches the filter.
func (p *Player) HasPacketInQueue(filter Filter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range p.queue {
		if filter.matches(item.Packet) {
			return true
		}
	}
	return false
}

// IsCurrentPacket reports whether the rendering item matches the filter.
func (p *Player) IsCurrentPacket(filter Filter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && filter.matches(p.current.Packet)
}

// Mute scales the active gain to zero (or back to unity) without touching
// the stop-ramp configuration. Future renders inherit the mute state.
func (p *Player) Mute(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	if p.source != nil {
		if muted {
			p.source.SetGain(0)
		} else {
			p.source.SetGain(1)
		}
	}
}

// ClearQueue drops all queued items without stopping the current render.
func (p *Player) ClearQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
}
