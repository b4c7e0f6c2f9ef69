// Package audio implements the synthesized-speech playback engine and the
// microphone capture/loopback pipeline. Platform media primitives are
// injected behind small interfaces so the scheduling and interruption logic
// runs (and is tested) without real hardware.
package audio

import "time"

// Buffer is one decoded, renderable chunk of audio.
type Buffer interface {
	Duration() time.Duration
}

// Source renders a single buffer. Start is asynchronous; onEnded fires when
// the buffer finished rendering on its own (not after Stop).
type Source interface {
	Start(onEnded func())
	Stop()
	SetGain(gain float64)
}

// Device abstracts the platform playback primitives.
type Device interface {
	Decode(data []byte) (Buffer, error)
	SilenceBuffer(d time.Duration) Buffer
	NewSource(buf Buffer) Source
}

// Stream is an opaque platform media stream handle.
type Stream interface{}

// CaptureSource produces raw microphone samples. Start pushes sample slices
// through the callback from the platform audio thread; Stop releases all
// media tracks.
type CaptureSource interface {
	Start(onSamples func(samples []float32)) error
	Stop()
}

// PeerPair is one local loopback peer connection pair.
type PeerPair interface {
	// Pipe routes a stream through the pair and returns the loopback side.
	Pipe(in Stream) (Stream, error)
	Close() error
}

// PeerPairer creates local loopback peer pairs.
type PeerPairer interface {
	CreateLoopbackPeerPair() (PeerPair, error)
}
