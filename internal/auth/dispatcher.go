// Package auth is the auth dispatcher (spec.md §4.8): for each request it
// picks wallet-session auth over API-key auth, in that strict order, and
// produces the domain.AuthContext every orchestrator requires.
package auth

import (
	"context"
	"strings"

	"github.com/fusevault/core/internal/apikey"
	"github.com/fusevault/core/internal/domain"
)

// SessionValidator validates an externally-issued session token and
// returns the wallet address it authenticates. The session/login flow
// itself — how a wallet signature becomes a session token — is out of this
// system's scope (spec.md §2 Non-goals); this interface is the seam a
// concrete session layer plugs into.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionToken string) (walletAddress string, ok bool)
}

// Dispatcher produces an AuthContext from whatever credentials a request
// carries.
type Dispatcher struct {
	sessions   SessionValidator
	apiKeys    *apikey.Validator
	apiEnabled bool
}

// NewDispatcher assembles a Dispatcher. apiKeys may be nil, in which case
// the API-key subsystem is treated as disabled.
func NewDispatcher(sessions SessionValidator, apiKeys *apikey.Validator) *Dispatcher {
	return &Dispatcher{sessions: sessions, apiKeys: apiKeys, apiEnabled: apiKeys != nil}
}

// Credentials is whatever the HTTP adapter extracted from a request before
// handing it to the dispatcher.
type Credentials struct {
	SessionToken string
	APIKey       string
}

// Dispatch selects wallet-session auth over API-key auth, in that order
// (spec.md §4.8: "Wallet auth strictly precedes API-key auth"). Returns
// (nil, nil) if neither credential is present or valid — callers must
// treat a nil context as unauthenticated, not as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, creds Credentials) (*domain.AuthContext, error) {
	if token := strings.TrimSpace(creds.SessionToken); token != "" {
		if wallet, ok := d.sessions.ValidateSession(ctx, token); ok {
			return &domain.AuthContext{
				WalletAddress: strings.ToLower(wallet),
				Method:        domain.AuthMethodWalletSession,
				Permissions: map[domain.Permission]bool{
					domain.PermissionRead:   true,
					domain.PermissionWrite:  true,
					domain.PermissionDelete: true,
				},
			}, nil
		}
	}

	if key := strings.TrimSpace(creds.APIKey); key != "" && d.apiEnabled {
		return d.apiKeys.Validate(ctx, key)
	}

	return nil, nil
}
