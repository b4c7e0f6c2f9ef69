package parley

import (
	"github.com/parley-ai/parley-go/pkg/core"
)

// StartCapture begins streaming microphone audio to the scene. Chunks are
// batched on a fixed interval and shipped as PCM16 little-endian.
func (s *Session) StartCapture() error {
	if s.capture == nil {
		return core.NewAudioError("no capture source configured")
	}
	return s.capture.Start(func(chunk []byte) {
		s.mu.Lock()
		muted := s.micMuted
		s.mu.Unlock()
		if muted {
			return
		}
		if err := s.SendAudioChunk(chunk); err != nil {
			s.client.logger.Debug("audio chunk dropped", "error", err)
		}
	})
}

// StopCapture releases the microphone.
func (s *Session) StopCapture() {
	if s.capture != nil {
		s.capture.Stop()
	}
}

// SetMicMute drops captured chunks without releasing the media tracks, so
// unmuting is instantaneous.
func (s *Session) SetMicMute(muted bool) {
	s.mu.Lock()
	s.micMuted = muted
	s.mu.Unlock()
}

// MicMuted reports the capture mute state.
func (s *Session) MicMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micMuted
}

// SetPlaybackMute silences synthesized speech without pausing the queue.
func (s *Session) SetPlaybackMute(muted bool) {
	if s.player != nil {
		s.player.Mute(muted)
	}
}

// IsPlaying reports whether synthesized speech is rendering or queued.
func (s *Session) IsPlaying() bool {
	return s.player != nil && s.player.GetIsActive()
}
