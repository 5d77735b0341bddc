// Package auth provides the token validation boundary for subscriber
// connections.
//
// It intentionally avoids policy decisions: identity-provider quirks
// (audience or claim special-casing) are configuration of whichever
// Validator implementation is wired in, never of the sync pipeline.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Identity is the authenticated principal attached to a subscriber
// connection.
type Identity struct {
	Subject string
}

// Validator validates a connection credential and resolves it to an
// identity.
type Validator interface {
	Validate(token string) (Identity, error)
}

// StaticToken validates a single shared token with a constant-time
// compare. Suitable for single-tenant deployments; anything richer
// plugs in its own Validator.
type StaticToken struct {
	Token   string
	Subject string
}

func (s StaticToken) Validate(token string) (Identity, error) {
	if s.Token == "" {
		return Identity{}, ErrUnauthorized
	}

	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return Identity{}, ErrUnauthorized
	}

	subject := s.Subject
	if subject == "" {
		subject = "static"
	}

	return Identity{Subject: subject}, nil
}

// AllowAll accepts any credential. Used when no token is configured.
type AllowAll struct{}

func (AllowAll) Validate(string) (Identity, error) {
	return Identity{Subject: "anonymous"}, nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) (Identity, error)

func (f FuncValidator) Validate(token string) (Identity, error) {
	return f(token)
}
