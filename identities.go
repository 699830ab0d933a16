package accounts

import (
	"context"

	"github.com/google/uuid"
)

// IdentityIndex is the queryable index over external-identity claims. The
// per-account identity map stays the source of truth; the index answers the
// global "is this tuple VERIFIED elsewhere" question and is kept in sync by
// the linker and the merge engine.
type IdentityIndex interface {
	// FindVerified returns the account holding a VERIFIED claim for the
	// tuple, or uuid.Nil when nobody does.
	FindVerified(ctx context.Context, provider, externalID string) (uuid.UUID, error)
	Record(ctx context.Context, accountID uuid.UUID, provider, externalID string, status IdentityStatus) error
	ClearForAccount(ctx context.Context, accountID uuid.UUID) error
}

// ExternalIdentityLinker tracks per-provider federated identity claims.
type ExternalIdentityLinker struct {
	index  IdentityIndex
	logger Logger
}

// NewExternalIdentityLinker builds a linker over the given index.
func NewExternalIdentityLinker(index IdentityIndex) *ExternalIdentityLinker {
	return &ExternalIdentityLinker{
		index:  index,
		logger: defLogger{},
	}
}

// WithLogger overrides the linker logger.
func (l *ExternalIdentityLinker) WithLogger(logger Logger) *ExternalIdentityLinker {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Claim records an identity claim at the intended status. It fails when
// another account already holds VERIFIED for the same tuple.
func (l *ExternalIdentityLinker) Claim(ctx context.Context, account *Account, provider, externalID string, intended IdentityStatus) error {
	if identityStatusRank(intended) == 0 {
		return ErrInvalidIdentityTransition.WithMetadata(map[string]any{
			"status": intended,
		})
	}

	if err := l.ensureNotVerifiedElsewhere(ctx, account, provider, externalID); err != nil {
		return err
	}

	account.EnsureMaps()
	if account.ExternalIdentities[provider] == nil {
		account.ExternalIdentities[provider] = map[string]string{}
	}
	account.ExternalIdentities[provider][externalID] = intended

	return l.index.Record(ctx, account.ID, provider, externalID, intended)
}

// Promote upgrades an existing claim. The path is monotonic,
// CREATE -> LINK -> VERIFIED; downgrades and same-rank moves are rejected.
func (l *ExternalIdentityLinker) Promote(ctx context.Context, account *Account, provider, externalID string, to IdentityStatus) error {
	current, ok := account.ExternalIdentities[provider][externalID]
	if !ok {
		return ErrInvalidIdentityTransition.WithMetadata(map[string]any{
			"provider": provider,
			"id":       externalID,
			"reason":   "no existing claim",
		})
	}

	if identityStatusRank(to) <= identityStatusRank(current) {
		return ErrInvalidIdentityTransition.WithMetadata(map[string]any{
			"provider": provider,
			"id":       externalID,
			"from":     current,
			"to":       to,
		})
	}

	if to == IdentityStatusVerified {
		if err := l.ensureNotVerifiedElsewhere(ctx, account, provider, externalID); err != nil {
			return err
		}
	}

	account.ExternalIdentities[provider][externalID] = to

	return l.index.Record(ctx, account.ID, provider, externalID, to)
}

func (l *ExternalIdentityLinker) ensureNotVerifiedElsewhere(ctx context.Context, account *Account, provider, externalID string) error {
	holder, err := l.index.FindVerified(ctx, provider, externalID)
	if err != nil {
		return err
	}

	if holder != uuid.Nil && holder != account.ID {
		return ErrIdentityVerifiedElsewhere.WithMetadata(map[string]any{
			"provider":   provider,
			"id":         externalID,
			"account_id": holder.String(),
		})
	}

	return nil
}

// MergeIdentityMaps folds source's claims into target's map. Per tuple,
// VERIFIED beats LINK beats CREATE; ties keep target's value.
func MergeIdentityMaps(target, source map[string]map[string]string) map[string]map[string]string {
	if target == nil {
		target = map[string]map[string]string{}
	}

	for provider, claims := range source {
		if target[provider] == nil {
			target[provider] = map[string]string{}
		}
		for id, status := range claims {
			existing, ok := target[provider][id]
			if !ok || identityStatusRank(status) > identityStatusRank(existing) {
				target[provider][id] = status
			}
		}
	}

	return target
}
