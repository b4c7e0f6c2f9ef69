package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parley-ai/parley-go/pkg/core/session"
)

// httpTokenSource exchanges an API key for a session token at a token
// endpoint.
type httpTokenSource struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func newHTTPTokenSource(endpoint, apiKey string) *httpTokenSource {
	return &httpTokenSource{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenResponse struct {
	Token          string    `json:"token"`
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id"`
	ExpirationTime time.Time `json:"expiration_time"`
}

func (s *httpTokenSource) GenerateToken(ctx context.Context) (session.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, nil)
	if err != nil {
		return session.Token{}, err
	}
	req.Header.Set("Authorization", "Basic "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return session.Token{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session.Token{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return session.Token{}, fmt.Errorf("decoding token response: %w", err)
	}
	return session.Token{
		Token:          body.Token,
		Type:           body.Type,
		SessionID:      body.SessionID,
		ExpirationTime: body.ExpirationTime,
	}, nil
}
