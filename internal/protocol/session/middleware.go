package session

import (
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/danmuck/deskwire/internal/protocol"
)

var ErrRateLimited = errors.New("session: input rate exceeded")

// Middleware wraps a Handler with cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain composes middleware so the first listed runs outermost.
func Chain(mw ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			h = mw[i](h)
		}
		return h
	}
}

// WithRateLimit drops messages beyond the limiter's sustained rate.
// Meant for input floods; dropped input degrades the session without
// ending it.
func WithRateLimit(l *rate.Limiter) Middleware {
	return func(next Handler) Handler {
		return func(m protocol.Message) error {
			if !l.Allow() {
				return fmt.Errorf("%w: %s", ErrRateLimited, protocol.TypeOf(m))
			}
			return next(m)
		}
	}
}

// WithRecovery converts a handler panic into an error so one bad frame
// cannot take the reader down.
func WithRecovery() Middleware {
	return func(next Handler) Handler {
		return func(m protocol.Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("session: handler panic: %v", r)
				}
			}()
			return next(m)
		}
	}
}
