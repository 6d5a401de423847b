package auth

import "errors"

var (
	// ErrUnauthenticated is returned when a request carries no credentials.
	ErrUnauthenticated = errors.New("missing authentication")
	// ErrInvalidCredentials is returned for a bad token or API key.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden is returned when a client lacks a required scope.
	ErrForbidden = errors.New("missing required scope")
)

// ClientContext represents the authenticated caller of a request
type ClientContext struct {
	ClientID  string   `json:"client_id"`
	Scopes    []string `json:"scopes"`
	TokenType string   `json:"token_type"` // jwt, api_key or dev
}

// HasScope reports whether the client was granted scope.
func (c *ClientContext) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Scopes for authorization
const (
	ScopeResearchRead  = "research:read"
	ScopeResearchWrite = "research:write"
)

// DefaultScopes are granted to API keys and to tokens without a scopes claim.
var DefaultScopes = []string{ScopeResearchRead, ScopeResearchWrite}
