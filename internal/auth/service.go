package auth

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service validates API keys against configured bcrypt hashes.
type Service struct {
	hashes [][]byte
	logger *zap.Logger

	// sha256(key) -> client id for keys that already passed bcrypt
	mu       sync.RWMutex
	verified map[string]string
}

// NewService creates a new authentication service
func NewService(apiKeyHashes []string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	hashes := make([][]byte, 0, len(apiKeyHashes))
	for _, h := range apiKeyHashes {
		if h != "" {
			hashes = append(hashes, []byte(h))
		}
	}
	return &Service{
		hashes:   hashes,
		logger:   logger,
		verified: make(map[string]string),
	}
}

// HashAPIKey returns the bcrypt hash to put in auth.api_key_hashes.
func HashAPIKey(apiKey string) (string, error) {
	if len(apiKey) < 16 {
		return "", fmt.Errorf("API key must be at least 16 characters")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hashed), nil
}

// ValidateAPIKey validates an API key and returns the client context
func (s *Service) ValidateAPIKey(ctx context.Context, apiKey string) (*ClientContext, error) {
	if apiKey == "" {
		return nil, ErrUnauthenticated
	}
	digest := hashToken(apiKey)

	s.mu.RLock()
	clientID, ok := s.verified[digest]
	s.mu.RUnlock()
	if ok {
		return apiKeyClient(clientID), nil
	}

	for _, h := range s.hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if bcrypt.CompareHashAndPassword(h, []byte(apiKey)) == nil {
			clientID = "key-" + digest[:12]
			s.mu.Lock()
			s.verified[digest] = clientID
			s.mu.Unlock()
			s.logger.Debug("API key verified", zap.String("client_id", clientID))
			return apiKeyClient(clientID), nil
		}
	}
	return nil, fmt.Errorf("%w: unknown API key", ErrInvalidCredentials)
}

func apiKeyClient(clientID string) *ClientContext {
	return &ClientContext{ClientID: clientID, Scopes: DefaultScopes, TokenType: "api_key"}
}
