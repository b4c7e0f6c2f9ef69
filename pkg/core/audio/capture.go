package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/parley-ai/parley-go/pkg/core"
)

const (
	// CaptureSampleRateHz is the wire sample rate for outbound audio.
	CaptureSampleRateHz = 16000
	// DefaultCaptureInterval batches mic samples on a timer rather than
	// per audio callback; callbacks arrive far too often to ship one frame
	// each.
	DefaultCaptureInterval = 200 * time.Millisecond
)

// Capture converts a continuous microphone stream into little-endian PCM16
// chunks delivered to a listener on a fixed interval.
type Capture struct {
	source   CaptureSource
	interval time.Duration

	mu      sync.Mutex
	samples []float32
	running bool
	stop    chan struct{}
}

// NewCapture creates a capture pipeline over the given source.
func NewCapture(source CaptureSource, interval time.Duration) (*Capture, error) {
	if source == nil {
		return nil, core.NewAudioError("capture source must not be nil")
	}
	if interval <= 0 {
		interval = DefaultCaptureInterval
	}
	return &Capture{source: source, interval: interval}, nil
}

// Start begins capturing. Each tick the buffered samples are converted to a
// PCM16LE chunk and handed to the listener; empty ticks emit nothing.
func (c *Capture) Start(listener func(chunk []byte)) error {
	if listener == nil {
		return core.NewAudioError("capture listener must not be nil")
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return core.NewAudioError("capture already started")
	}
	c.running = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	if err := c.source.Start(c.appendSamples); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if chunk := c.flush(); len(chunk) > 0 {
					listener(chunk)
				}
			}
		}
	}()
	return nil
}

func (c *Capture) appendSamples(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.samples = append(c.samples, samples...)
}

func (c *Capture) flush() []byte {
	c.mu.Lock()
	samples := c.samples
	c.samples = nil
	c.mu.Unlock()
	if len(samples) == 0 {
		return nil
	}
	return FloatToPCM16LE(samples)
}

// Stop releases the media tracks and clears any buffered samples.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.samples = nil
	c.mu.Unlock()

	c.source.Stop()
}

// FloatToPCM16LE converts normalized float samples to little-endian PCM16.
// Samples outside [-1, 1] are clamped.
func FloatToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		s := float64(sample)
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var value int16
		if s < 0 {
			value = int16(s * 0x8000)
		} else {
			value = int16(s * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(value))
	}
	return out
}

// PCM16LEToFloat converts little-endian PCM16 back to normalized floats.
func PCM16LEToFloat(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		value := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(float64(value) / math.MaxInt16)
	}
	return out
}
