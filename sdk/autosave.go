package parley

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/parley-ai/parley-go/pkg/core/history"
	"github.com/parley-ai/parley-go/pkg/core/protocol"
)

// sessionSnapshot is the serialized session state handed to the autosave
// callback. It round-trips into a dialog-history continuation.
type sessionSnapshot struct {
	SessionID string                `json:"session_id,omitempty"`
	Scene     string                `json:"scene,omitempty"`
	Dialog    []protocol.DialogTurn `json:"dialog,omitempty"`
	SavedAt   time.Time             `json:"saved_at"`
}

// SaveState serializes the current session state. The bytes can be fed back
// through ContinuationFromState to resume the conversation later.
func (s *Session) SaveState() ([]byte, error) {
	s.mu.Lock()
	snapshot := sessionSnapshot{
		SessionID: s.token.SessionID,
		Scene:     s.scene,
		SavedAt:   time.Now().UTC(),
	}
	s.mu.Unlock()

	for _, item := range s.history.Get() {
		if item.Type != history.ItemActor {
			continue
		}
		talker := "CHARACTER"
		if item.Source.IsPlayer() {
			talker = "PLAYER"
		}
		snapshot.Dialog = append(snapshot.Dialog, protocol.DialogTurn{
			Talker: talker,
			Phrase: item.Text,
		})
	}
	return json.Marshal(snapshot)
}

// ContinuationFromState rebuilds a continuation from bytes produced by
// SaveState.
func ContinuationFromState(state []byte) (*protocol.Continuation, error) {
	var snapshot sessionSnapshot
	if err := json.Unmarshal(state, &snapshot); err != nil {
		return nil, err
	}
	return &protocol.Continuation{
		Type:          protocol.ContinuationDialogHistory,
		DialogHistory: snapshot.Dialog,
	}, nil
}

// startAutosave launches the periodic save loop once per session. Saves are
// advisory: a failing callback is retried with growing delays and then
// skipped until the next interval.
func (s *Session) startAutosave() {
	if s.client.autoSaveFn == nil || s.client.autoSaveInterval <= 0 {
		return
	}

	s.mu.Lock()
	if s.autosaveStop != nil || s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.autosaveStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.client.autoSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.saveOnce(stop)
			}
		}
	}()
}

func (s *Session) saveOnce(stop chan struct{}) {
	state, err := s.SaveState()
	if err != nil {
		s.client.logger.Warn("session snapshot failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.client.autoSaveFn(state)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		s.client.logger.Warn("session autosave dropped", "error", err)
	}
}
