package audio

import (
	"sync"

	"github.com/parley-ai/parley-go/pkg/core"
)

// Loopback normalizes a class of platforms where simultaneous local
// playback and capture corrupt each other. Both streams are round-tripped
// through local peer connection pairs; the loopback sides are what the
// capture and playback components should actually use.
type Loopback struct {
	pairer PeerPairer
	// bypass passes streams through unchanged on platforms known to
	// mishandle the peer trick.
	bypass bool

	mu       sync.Mutex
	started  bool
	pairs    []PeerPair
	recorder Stream
	playback Stream
}

// NewLoopback creates a loopback router. When bypass is true the original
// streams are exposed unchanged.
func NewLoopback(pairer PeerPairer, bypass bool) (*Loopback, error) {
	if pairer == nil && !bypass {
		return nil, core.NewAudioError("peer pairer must not be nil")
	}
	return &Loopback{pairer: pairer, bypass: bypass}, nil
}

// Start routes the mic and synthesized-audio streams. It is idempotent per
// session; Stop must be called before Start may run again.
func (l *Loopback) Start(mic, playback Stream) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return core.NewAudioError("loopback already started")
	}

	if l.bypass {
		l.recorder = mic
		l.playback = playback
		l.started = true
		return nil
	}

	micPair, err := l.pairer.CreateLoopbackPeerPair()
	if err != nil {
		return err
	}
	playbackPair, err := l.pairer.CreateLoopbackPeerPair()
	if err != nil {
		_ = micPair.Close()
		return err
	}

	recorder, err := micPair.Pipe(mic)
	if err != nil {
		_ = micPair.Close()
		_ = playbackPair.Close()
		return err
	}
	looped, err := playbackPair.Pipe(playback)
	if err != nil {
		_ = micPair.Close()
		_ = playbackPair.Close()
		return err
	}

	l.pairs = []PeerPair{micPair, playbackPair}
	l.recorder = recorder
	l.playback = looped
	l.started = true
	return nil
}

// GetRecorderLoopBackStream returns the stream the capture component should
// record from.
func (l *Loopback) GetRecorderLoopBackStream() (Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil, core.NewAudioError("loopback is not started: recorder stream is not available before the session starts")
	}
	return l.recorder, nil
}

// GetPlaybackLoopbackStream returns the stream the playback component
// should render to.
func (l *Loopback) GetPlaybackLoopbackStream() (Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil, core.NewAudioError("loopback is not started: playback stream is not available before the session starts")
	}
	return l.playback, nil
}

// Stop closes the peer pairs and forgets the routed streams.
func (l *Loopback) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pair := range l.pairs {
		_ = pair.Close()
	}
	l.pairs = nil
	l.recorder = nil
	l.playback = nil
	l.started = false
}
