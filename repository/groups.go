package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// GroupMembershipModel is the Bun model for group membership rows.
type GroupMembershipModel struct {
	bun.BaseModel `bun:"table:group_memberships"`

	GroupID   string    `bun:"group_id,pk"`
	AccountID uuid.UUID `bun:"account_id,pk,type:uuid"`
	Role      string    `bun:"role,notnull"`
}

// GroupRepository implements accounts.GroupStore using Bun.
type GroupRepository struct {
	db *bun.DB
}

// NewGroupRepository creates a new repository.
func NewGroupRepository(db *bun.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// ForAccountTx implements accounts.GroupStore.
func (r *GroupRepository) ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) ([]*accounts.GroupMembership, error) {
	var models []GroupMembershipModel
	err := tx.NewSelect().
		Model(&models).
		Where("account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*accounts.GroupMembership{}, nil
		}
		return nil, err
	}

	memberships := make([]*accounts.GroupMembership, len(models))
	for i, m := range models {
		memberships[i] = &accounts.GroupMembership{
			GroupID:   m.GroupID,
			AccountID: m.AccountID,
			Role:      m.Role,
		}
	}
	return memberships, nil
}

// RoleOfTx implements accounts.GroupStore.
func (r *GroupRepository) RoleOfTx(ctx context.Context, tx bun.IDB, groupID string, accountID uuid.UUID) (accounts.GroupRole, bool, error) {
	var model GroupMembershipModel
	err := tx.NewSelect().
		Model(&model).
		Where("group_id = ? AND account_id = ?", groupID, accountID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.Role, true, nil
}

// SetRoleTx implements accounts.GroupStore.
func (r *GroupRepository) SetRoleTx(ctx context.Context, tx bun.IDB, groupID string, accountID uuid.UUID, role accounts.GroupRole) error {
	model := &GroupMembershipModel{
		GroupID:   groupID,
		AccountID: accountID,
		Role:      role,
	}
	_, err := tx.NewInsert().
		Model(model).
		On("CONFLICT (group_id, account_id) DO UPDATE").
		Set("role = EXCLUDED.role").
		Exec(ctx)
	return err
}

// RemoveTx implements accounts.GroupStore.
func (r *GroupRepository) RemoveTx(ctx context.Context, tx bun.IDB, groupID string, accountID uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*GroupMembershipModel)(nil)).
		Where("group_id = ? AND account_id = ?", groupID, accountID).
		Exec(ctx)
	return err
}
