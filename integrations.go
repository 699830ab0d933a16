package accounts

import (
	"context"

	"github.com/google/uuid"
)

// Integration is an attached third-party capability on an account (storage
// provider, citation manager, and so on). Integrations are value objects
// selected by provider key; the merge engine consults them instead of the
// account inheriting behavior.
type Integration interface {
	Provider() string
	// CanBeMerged reports whether the integration's settings can be
	// consolidated into another account. A false answer vetoes the whole
	// merge.
	CanBeMerged() bool
	// MergeSettings folds this integration's per-account settings from
	// source into target. It runs before contributorship transfer because
	// removing a contributor can trigger credential revocation hooks.
	MergeSettings(ctx context.Context, source, target *Account) error
}

// IntegrationStore resolves the integrations attached to an account.
type IntegrationStore interface {
	ForAccount(ctx context.Context, accountID uuid.UUID) ([]Integration, error)
}

// IntegrationStoreFunc adapts a function to the IntegrationStore interface.
type IntegrationStoreFunc func(ctx context.Context, accountID uuid.UUID) ([]Integration, error)

// ForAccount implements IntegrationStore.
func (f IntegrationStoreFunc) ForAccount(ctx context.Context, accountID uuid.UUID) ([]Integration, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, accountID)
}

type noopIntegrationStore struct{}

func (noopIntegrationStore) ForAccount(context.Context, uuid.UUID) ([]Integration, error) {
	return nil, nil
}

func normalizeIntegrationStore(s IntegrationStore) IntegrationStore {
	if s == nil {
		return noopIntegrationStore{}
	}
	return s
}
