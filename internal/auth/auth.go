// Package auth provides minimal authentication helpers for the bridge's
// client-facing listeners.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken validates a single shared token in constant time. It is
// intended for development deployments and proofs of concept.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// AllowAll accepts every token, including the empty one. Used when the
// operator runs a listener without authentication.
type AllowAll struct{}

func (AllowAll) Validate(string) error { return nil }

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// RequestToken extracts the bearer token from an HTTP request. Browser
// websocket clients cannot set arbitrary headers, so the access_token
// query parameter is accepted as a fallback.
func RequestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("access_token")
}

// Authorize validates the request's bearer token against v. A nil
// validator authorizes everything.
func Authorize(v Validator, r *http.Request) error {
	if v == nil {
		return nil
	}
	return v.Validate(RequestToken(r))
}
