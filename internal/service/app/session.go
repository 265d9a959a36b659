package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshMargin renews a cached token shortly before it expires.
const refreshMargin = 30 * time.Second

type cachedToken struct {
	token   string
	expires time.Time
}

// Session caches one token per deployment and renews it when the gateway
// reports it expired.
type Session struct {
	client *Client

	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
}

func NewSession(client *Client) *Session {
	return &Session{
		client: client,
		tokens: make(map[string]cachedToken),
		now:    time.Now,
	}
}

func (s *Session) Token(ctx context.Context, deploymentID string) (string, error) {
	s.mu.Lock()
	cached, ok := s.tokens[deploymentID]
	s.mu.Unlock()
	if ok && s.now().Add(refreshMargin).Before(cached.expires) {
		return cached.token, nil
	}

	tok, err := s.client.RequestToken(ctx, deploymentID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.tokens[deploymentID] = cachedToken{token: tok, expires: expiry(tok)}
	s.mu.Unlock()
	return tok, nil
}

func (s *Session) forget(deploymentID string) {
	s.mu.Lock()
	delete(s.tokens, deploymentID)
	s.mu.Unlock()
}

// Query runs envelope against deploymentID, renewing the token once if the
// gateway rejects it.
func (s *Session) Query(ctx context.Context, deploymentID string, envelope []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		tok, err := s.Token(ctx, deploymentID)
		if err != nil {
			return nil, err
		}
		out, err := s.client.Query(ctx, deploymentID, tok, envelope)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && (apiErr.Kind == "token_expired" || apiErr.Kind == "token_invalid") {
			s.forget(deploymentID)
			continue
		}
		return out, err
	}
}

// expiry reads exp without verifying; the gateway is the one that checks.
func expiry(tok string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Envelope turns console input into a GraphQL request body. Input that is
// already a JSON object is sent as-is.
func Envelope(input string) ([]byte, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty query")
	}
	if strings.HasPrefix(input, "{") && json.Valid([]byte(input)) {
		var probe map[string]json.RawMessage
		if json.Unmarshal([]byte(input), &probe) == nil {
			if _, ok := probe["query"]; ok {
				return []byte(input), nil
			}
		}
	}
	data, err := json.Marshal(map[string]string{"query": input})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return data, nil
}
