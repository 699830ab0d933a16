package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IdentityClaimModel is the Bun model for the external-identity index. The
// jsonb claim map on the account stays the source of truth; these rows make
// the global VERIFIED-uniqueness check queryable.
type IdentityClaimModel struct {
	bun.BaseModel `bun:"table:identity_claims"`

	Provider   string    `bun:"provider,pk"`
	ExternalID string    `bun:"external_id,pk"`
	AccountID  uuid.UUID `bun:"account_id,pk,type:uuid"`
	Status     string    `bun:"status,notnull"`
}

// IdentityClaimRepository implements accounts.IdentityIndex using Bun.
type IdentityClaimRepository struct {
	db *bun.DB
}

// NewIdentityClaimRepository creates a new repository.
func NewIdentityClaimRepository(db *bun.DB) *IdentityClaimRepository {
	return &IdentityClaimRepository{db: db}
}

// FindVerified implements accounts.IdentityIndex.
func (r *IdentityClaimRepository) FindVerified(ctx context.Context, provider, externalID string) (uuid.UUID, error) {
	var model IdentityClaimModel
	err := r.db.NewSelect().
		Model(&model).
		Where("provider = ? AND external_id = ? AND status = ?", provider, externalID, accounts.IdentityStatusVerified).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, err
	}
	return model.AccountID, nil
}

// Record implements accounts.IdentityIndex.
func (r *IdentityClaimRepository) Record(ctx context.Context, accountID uuid.UUID, provider, externalID string, status accounts.IdentityStatus) error {
	model := &IdentityClaimModel{
		Provider:   provider,
		ExternalID: externalID,
		AccountID:  accountID,
		Status:     string(status),
	}
	_, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (provider, external_id, account_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Exec(ctx)
	return err
}

// ClearForAccount implements accounts.IdentityIndex.
func (r *IdentityClaimRepository) ClearForAccount(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*IdentityClaimModel)(nil)).
		Where("account_id = ?", accountID).
		Exec(ctx)
	return err
}
