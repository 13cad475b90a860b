// Package auth resolves inbound HTTP credentials into an immutable
// authorization context. Three strategies are attempted in fixed priority
// order: Bearer JWT, X-API-Key, and the platform session cookie. Exactly one
// strategy handles a given request; a recognized-but-invalid credential never
// falls through to the next strategy.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// ErrUnauthenticated indicates no recognized credential was presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrInvalidCredential indicates a credential was recognized but failed
// validation (expired, revoked, bad signature). Clients should re-authenticate
// rather than retry; the distinction from ErrUnauthenticated matters for that
// retry logic.
var ErrInvalidCredential = errors.New("invalid credential")

// Strategy extracts and validates one kind of credential.
type Strategy interface {
	// Name identifies the strategy in logs ("bearer", "api_key", "cookie").
	Name() string
	// Extract returns the raw credential material if the request presents
	// this credential kind. A false return means the resolver moves on to the
	// next strategy.
	Extract(r *http.Request) (string, bool)
	// Resolve validates the credential and produces the authorization
	// context. Validation failures must return ErrInvalidCredential (wrapped
	// with detail); infrastructure failures return other errors.
	Resolve(ctx context.Context, credential string) (*Context, error)
}

// Resolver tries strategies in registration order and stops at the first one
// whose Extract matches.
type Resolver struct {
	strategies []Strategy
	log        *slog.Logger
}

// NewResolver builds a resolver over the given strategies. Order is priority
// order.
func NewResolver(log *slog.Logger, strategies ...Strategy) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{strategies: strategies, log: log}
}

// Resolve authenticates one HTTP request. It never logs credential material.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*Context, error) {
	for _, s := range r.strategies {
		cred, ok := s.Extract(req)
		if !ok {
			continue
		}
		ac, err := s.Resolve(ctx, cred)
		if err != nil {
			r.log.InfoContext(ctx, "auth.resolve.fail",
				slog.String("strategy", s.Name()),
				slog.String("err", err.Error()))
			return nil, err
		}
		ac.Method = s.Name()
		r.log.InfoContext(ctx, "auth.resolve.ok", slog.String("strategy", s.Name()))
		return ac, nil
	}
	return nil, ErrUnauthenticated
}
