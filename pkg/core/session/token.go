package session

import (
	"context"
	"time"
)

// Token authenticates one logical session. The same SessionID is presented
// across reconnects so the server keeps its side of the context alive.
type Token struct {
	Token          string
	Type           string
	SessionID      string
	ExpirationTime time.Time
}

// Expired reports whether the token is within skew of its expiration.
func (t Token) Expired(skew time.Duration) bool {
	if t.Token == "" {
		return true
	}
	return !time.Now().Add(skew).Before(t.ExpirationTime)
}

// TokenSource produces session tokens. Implementations typically call an
// auth endpoint; tests inject a fixture.
type TokenSource interface {
	GenerateToken(ctx context.Context) (Token, error)
}

// TokenSourceFunc adapts a function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context) (Token, error)

// GenerateToken implements TokenSource.
func (f TokenSourceFunc) GenerateToken(ctx context.Context) (Token, error) {
	return f(ctx)
}
