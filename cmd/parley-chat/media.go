package main

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/parley-ai/parley-go/pkg/core/audio"
)

const (
	playbackSampleRateHz = 24000
	pcmBytesPerSample    = 2
	playbackChunk        = 10 * time.Millisecond
)

// ffplayDevice renders PCM16LE audio by piping it into an ffplay process.
// Gain is applied in software per chunk so the stop ramp is audible.
type ffplayDevice struct{}

type pcmBuffer struct {
	data []byte
}

func (b pcmBuffer) Duration() time.Duration {
	samples := len(b.data) / pcmBytesPerSample
	return time.Duration(samples) * time.Second / playbackSampleRateHz
}

func (ffplayDevice) Decode(data []byte) (audio.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio chunk")
	}
	return pcmBuffer{data: data}, nil
}

func (ffplayDevice) SilenceBuffer(d time.Duration) audio.Buffer {
	samples := int(d.Seconds() * playbackSampleRateHz)
	return pcmBuffer{data: make([]byte, samples*pcmBytesPerSample)}
}

func (ffplayDevice) NewSource(buf audio.Buffer) audio.Source {
	pcm, _ := buf.(pcmBuffer)
	return &ffplaySource{data: pcm.data, gain: 1}
}

type ffplaySource struct {
	mu      sync.Mutex
	data    []byte
	gain    float64
	cmd     *exec.Cmd
	stopped bool
}

func (s *ffplaySource) SetGain(gain float64) {
	s.mu.Lock()
	s.gain = gain
	s.mu.Unlock()
}

func (s *ffplaySource) Start(onEnded func()) {
	cmd := exec.Command("ffplay",
		"-loglevel", "quiet", "-nodisp", "-autoexit",
		"-f", "s16le", "-ar", fmt.Sprint(playbackSampleRateHz), "-ch_layout", "mono", "-")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		onEnded()
		return
	}
	if err := cmd.Start(); err != nil {
		onEnded()
		return
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	go func() {
		s.stream(stdin)
		_ = stdin.Close()
		_ = cmd.Wait()
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			onEnded()
		}
	}()
}

// stream writes the buffer in realtime-sized chunks, scaling each by the
// current gain so ramp changes take effect mid-render.
func (s *ffplaySource) stream(w io.Writer) {
	chunkBytes := int(playbackChunk.Seconds()*playbackSampleRateHz) * pcmBytesPerSample
	for offset := 0; offset < len(s.data); offset += chunkBytes {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		gain := s.gain
		s.mu.Unlock()

		end := offset + chunkBytes
		if end > len(s.data) {
			end = len(s.data)
		}
		chunk := s.data[offset:end]
		if gain != 1 {
			samples := audio.PCM16LEToFloat(chunk)
			for i := range samples {
				samples[i] *= float32(gain)
			}
			chunk = audio.FloatToPCM16LE(samples)
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
	}
}

func (s *ffplaySource) Stop() {
	s.mu.Lock()
	s.stopped = true
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// ffmpegCapture records the default microphone through ffmpeg and pushes
// normalized samples at the wire sample rate.
type ffmpegCapture struct {
	mu  sync.Mutex
	cmd *exec.Cmd
}

func micArgs() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"-f", "avfoundation", "-i", ":default"}
	case "windows":
		return []string{"-f", "dshow", "-i", "audio=default"}
	default:
		return []string{"-f", "pulse", "-i", "default"}
	}
}

func (c *ffmpegCapture) Start(onSamples func(samples []float32)) error {
	args := append([]string{"-loglevel", "quiet"}, micArgs()...)
	args = append(args,
		"-ac", "1", "-ar", fmt.Sprint(audio.CaptureSampleRateHz),
		"-f", "s16le", "-")
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg capture: %w", err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()

	go func() {
		buf := make([]byte, audio.CaptureSampleRateHz/10*pcmBytesPerSample)
		for {
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				onSamples(audio.PCM16LEToFloat(buf[:n]))
			}
			if err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *ffmpegCapture) Stop() {
	c.mu.Lock()
	cmd := c.cmd
	c.cmd = nil
	c.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}
