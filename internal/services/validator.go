package services

import (
	"context"
	"time"

	"github.com/akagifreeez/relay-gateway/internal/models"
)

// Admission is the outcome of a successful authorization.
type Admission struct {
	Credential *models.Credential
	// IsToken marks transient token credentials. They carry no server-side
	// quota counter, so usage figures are not reported for them.
	IsToken bool
}

// Validator folds the credential store, token codec and rate limiter into a
// single admission decision per inbound request.
type Validator struct {
	store   CredentialStore
	tokens  *TokenService
	limiter RateLimiter
}

func NewValidator(store CredentialStore, tokens *TokenService, limiter RateLimiter) *Validator {
	return &Validator{
		store:   store,
		tokens:  tokens,
		limiter: limiter,
	}
}

// Authorize admits or rejects a presented credential and, on admission of a
// stored credential, consumes one quota unit. The quota check happens before
// the rate-limit check so a caller who has exhausted lifetime quota is told
// so even while bursting.
func (v *Validator) Authorize(ctx context.Context, presented string) (*Admission, error) {
	if presented == "" {
		return nil, ErrMissingCredential
	}

	if LooksLikeToken(presented) {
		payload, err := v.tokens.Verify(presented)
		if err != nil {
			return nil, err
		}
		return &Admission{Credential: tokenView(payload), IsToken: true}, nil
	}

	cred, err := v.store.Get(ctx, presented)
	if err != nil {
		return nil, err
	}
	if !cred.IsActive {
		return nil, ErrDeactivatedCredential
	}
	if cred.RequestCount >= cred.Limit {
		return nil, ErrQuotaExceeded
	}

	if !v.limiter.Allow(ctx, cred.ID, cred.Limit) {
		return nil, ErrRateLimited
	}

	// RecordUse re-checks the bound atomically, so two concurrent
	// admissions racing past the read above cannot both land.
	if err := v.store.RecordUse(ctx, cred.ID); err != nil {
		return nil, err
	}
	cred.RequestCount++

	return &Admission{Credential: cred}, nil
}

// Resolve authenticates a presented credential without consuming quota or a
// rate-limit slot. Used by read-only and minting endpoints; only dispatch
// admission counts against the quota.
func (v *Validator) Resolve(ctx context.Context, presented string) (*Admission, error) {
	if presented == "" {
		return nil, ErrMissingCredential
	}

	if LooksLikeToken(presented) {
		payload, err := v.tokens.Verify(presented)
		if err != nil {
			return nil, err
		}
		return &Admission{Credential: tokenView(payload), IsToken: true}, nil
	}

	cred, err := v.store.Get(ctx, presented)
	if err != nil {
		return nil, err
	}
	if !cred.IsActive {
		return nil, ErrDeactivatedCredential
	}

	return &Admission{Credential: cred}, nil
}

// tokenView synthesizes a credential record from a verified token payload.
func tokenView(payload *models.TokenPayload) *models.Credential {
	return &models.Credential{
		ID:        "token:" + payload.Owner,
		Owner:     payload.Owner,
		Limit:     payload.Limit,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
}
