package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// ClientContextKey is the context key for the authenticated client
	ClientContextKey ContextKey = "client"
)

// Middleware authenticates HTTP requests with a bearer JWT or an API key.
type Middleware struct {
	authService *Service
	jwtManager  *JWTManager
	skipAuth    bool // For development/testing
	logger      *zap.Logger
}

// NewMiddleware creates a new authentication middleware. Either service or
// jwtManager may be nil when that credential type is not configured.
func NewMiddleware(authService *Service, jwtManager *JWTManager, skipAuth bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		authService: authService,
		jwtManager:  jwtManager,
		skipAuth:    skipAuth,
		logger:      logger,
	}
}

// HTTPMiddleware provides HTTP authentication middleware
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			ctx := WithClientContext(r.Context(), &ClientContext{
				ClientID:  "dev",
				Scopes:    DefaultScopes,
				TokenType: "dev",
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		client, err := m.authenticate(r)
		if err != nil {
			m.logger.Debug("Authentication failed",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClientContext(r.Context(), client)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (*ClientContext, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if m.jwtManager == nil {
			return nil, ErrInvalidCredentials
		}
		token, err := ExtractBearerToken(authHeader)
		if err != nil {
			return nil, ErrInvalidCredentials
		}
		return m.jwtManager.ValidateAccessToken(token)
	}

	apiKey := r.Header.Get("X-API-Key")
	// EventSource and browser websockets cannot set headers
	if apiKey == "" && isStreamPath(r.URL.Path) {
		apiKey = r.URL.Query().Get("api_key")
	}
	if apiKey != "" {
		if m.authService == nil {
			return nil, ErrInvalidCredentials
		}
		return m.authService.ValidateAPIKey(r.Context(), apiKey)
	}
	return nil, ErrUnauthenticated
}

func isStreamPath(path string) bool {
	return strings.HasSuffix(path, "/events") || strings.HasSuffix(path, "/ws")
}

// RequireScope wraps next so that only clients holding scope reach it.
func RequireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := RequireScopes(r.Context(), scope); err != nil {
			status := http.StatusForbidden
			if errors.Is(err, ErrUnauthenticated) {
				status = http.StatusUnauthorized
			}
			writeError(w, status, err.Error())
			return
		}
		next(w, r)
	}
}

// RequireScopes checks if the client has the required scopes
func RequireScopes(ctx context.Context, requiredScopes ...string) error {
	client, err := GetClientContext(ctx)
	if err != nil {
		return err
	}
	for _, required := range requiredScopes {
		if !client.HasScope(required) {
			return fmt.Errorf("%w: %s", ErrForbidden, required)
		}
	}
	return nil
}

// WithClientContext attaches client to ctx.
func WithClientContext(ctx context.Context, client *ClientContext) context.Context {
	return context.WithValue(ctx, ClientContextKey, client)
}

// GetClientContext extracts the client context from ctx
func GetClientContext(ctx context.Context) (*ClientContext, error) {
	client, ok := ctx.Value(ClientContextKey).(*ClientContext)
	if !ok || client == nil {
		return nil, ErrUnauthenticated
	}
	return client, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
