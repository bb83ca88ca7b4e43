// Package auth owns the mutable authentication state of the process: the
// current token and the identity extracted from it, with a defined
// load-on-start / set-on-login / clear-on-logout lifecycle. Consumers receive
// the context by injection; there is no package-level token.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidToken is returned when a token fails verification.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the authenticated user as seen by the messaging subsystem:
// an opaque id plus a display name. Read-only input, never mutated here.
type Identity struct {
	ID   string
	Name string
}

type claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Context holds the current token and identity behind a lock.
type Context struct {
	secret []byte

	mu       sync.RWMutex
	token    string
	identity Identity
	signedIn bool
}

// NewContext builds a Context verifying tokens with the given HMAC secret.
func NewContext(secret string) (*Context, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret required")
	}
	return &Context{secret: []byte(secret)}, nil
}

// Verify checks a token's signature and extracts the identity without
// touching the stored state.
func (c *Context) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrInvalidToken
	}
	var parsed claims
	token, err := jwt.ParseWithClaims(raw, &parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{ID: parsed.Subject, Name: parsed.Name}, nil
}

// SetToken verifies raw and, on success, adopts it as the current session.
func (c *Context) SetToken(raw string) (Identity, error) {
	identity, err := c.Verify(raw)
	if err != nil {
		return Identity{}, err
	}
	c.mu.Lock()
	c.token = strings.TrimSpace(raw)
	c.identity = identity
	c.signedIn = true
	c.mu.Unlock()
	return identity, nil
}

// Clear drops the current session.
func (c *Context) Clear() {
	c.mu.Lock()
	c.token = ""
	c.identity = Identity{}
	c.signedIn = false
	c.mu.Unlock()
}

// Token returns the current token, if any.
func (c *Context) Token() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.signedIn
}

// Identity returns the current identity, if any.
func (c *Context) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.signedIn
}

// UserID returns the signed-in user's id, if any.
func (c *Context) UserID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.ID, c.signedIn
}
