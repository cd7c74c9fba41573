package apikey

import (
	"context"
	"time"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/domain"
)

// Validator runs the full API-key validation pipeline (spec.md §4.7
// "Validation pipeline on every authenticated request").
type Validator struct {
	signer      *Signer
	store       *Store
	rateLimiter *RateLimiter
}

// NewValidator assembles a Validator from its three collaborators.
func NewValidator(signer *Signer, store *Store, rateLimiter *RateLimiter) *Validator {
	return &Validator{signer: signer, store: store, rateLimiter: rateLimiter}
}

// Validate runs steps 2 through 6 of the pipeline against raw key material
// extracted from the request (the auth dispatcher owns step 1, header/query
// extraction and trimming).
func (v *Validator) Validate(ctx context.Context, rawKey string) (*domain.AuthContext, error) {
	if _, err := v.signer.Verify(rawKey); err != nil {
		return nil, err
	}

	record, err := v.store.FindByHash(ctx, HashKey(rawKey))
	if err != nil {
		return nil, err
	}

	if !record.IsActive {
		return nil, apperr.New(apperr.KindAuthorization, "api key is not active")
	}
	if record.ExpiresAt != nil && record.ExpiresAt.Before(time.Now()) {
		_ = v.store.Deactivate(ctx, record.ID)
		return nil, apperr.New(apperr.KindAuthorization, "api key has expired")
	}

	if err := v.rateLimiter.Allow(ctx, record.WalletAddress); err != nil {
		return nil, err
	}

	_ = v.store.TouchLastUsed(ctx, record.ID)

	return &domain.AuthContext{
		WalletAddress: record.WalletAddress,
		Method:        domain.AuthMethodAPIKey,
		Permissions:   Permissions(record.Permissions),
	}, nil
}
