package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ContributorModel is the Bun model for contributor rows.
type ContributorModel struct {
	bun.BaseModel `bun:"table:contributors"`

	ResourceID string    `bun:"resource_id,pk"`
	Kind       string    `bun:"kind,pk"`
	AccountID  uuid.UUID `bun:"account_id,pk,type:uuid"`
	Permission int       `bun:"permission,notnull"`
	Visible    bool      `bun:"visible,notnull"`
}

// ContributorRepository implements accounts.ContributorStore using Bun.
type ContributorRepository struct {
	db *bun.DB
}

// NewContributorRepository creates a new repository.
func NewContributorRepository(db *bun.DB) *ContributorRepository {
	return &ContributorRepository{db: db}
}

// ForAccountTx implements accounts.ContributorStore.
func (r *ContributorRepository) ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, kind accounts.ResourceKind) ([]*accounts.Contributor, error) {
	var models []ContributorModel
	err := tx.NewSelect().
		Model(&models).
		Where("account_id = ? AND kind = ?", accountID, kind).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*accounts.Contributor{}, nil
		}
		return nil, err
	}

	rows := make([]*accounts.Contributor, len(models))
	for i, m := range models {
		rows[i] = r.toContributor(&m)
	}
	return rows, nil
}

// FindTx implements accounts.ContributorStore.
func (r *ContributorRepository) FindTx(ctx context.Context, tx bun.IDB, resourceID string, kind accounts.ResourceKind, accountID uuid.UUID) (*accounts.Contributor, bool, error) {
	var model ContributorModel
	err := tx.NewSelect().
		Model(&model).
		Where("resource_id = ? AND kind = ? AND account_id = ?", resourceID, kind, accountID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return r.toContributor(&model), true, nil
}

// UpdateTx implements accounts.ContributorStore.
func (r *ContributorRepository) UpdateTx(ctx context.Context, tx bun.IDB, contributor *accounts.Contributor) error {
	_, err := tx.NewUpdate().
		Model(r.fromContributor(contributor)).
		Column("permission", "visible").
		Where("resource_id = ? AND kind = ? AND account_id = ?", contributor.ResourceID, contributor.Kind, contributor.AccountID).
		Exec(ctx)
	return err
}

// RepointTx implements accounts.ContributorStore.
func (r *ContributorRepository) RepointTx(ctx context.Context, tx bun.IDB, contributor *accounts.Contributor, to uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*ContributorModel)(nil)).
		Set("account_id = ?", to).
		Where("resource_id = ? AND kind = ? AND account_id = ?", contributor.ResourceID, contributor.Kind, contributor.AccountID).
		Exec(ctx)
	if err != nil {
		return err
	}
	contributor.AccountID = to
	return nil
}

// DeleteTx implements accounts.ContributorStore.
func (r *ContributorRepository) DeleteTx(ctx context.Context, tx bun.IDB, resourceID string, kind accounts.ResourceKind, accountID uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*ContributorModel)(nil)).
		Where("resource_id = ? AND kind = ? AND account_id = ?", resourceID, kind, accountID).
		Exec(ctx)
	return err
}

func (r *ContributorRepository) toContributor(m *ContributorModel) *accounts.Contributor {
	return &accounts.Contributor{
		ResourceID: m.ResourceID,
		Kind:       m.Kind,
		AccountID:  m.AccountID,
		Permission: accounts.Permission(m.Permission),
		Visible:    m.Visible,
	}
}

func (r *ContributorRepository) fromContributor(c *accounts.Contributor) *ContributorModel {
	return &ContributorModel{
		ResourceID: c.ResourceID,
		Kind:       c.Kind,
		AccountID:  c.AccountID,
		Permission: int(c.Permission),
		Visible:    c.Visible,
	}
}

// ResourceModel is the Bun model for the resource rows whose creatorship is
// transferred on merge. Bookmark collections and quick-files containers are
// personal and excluded from transfer.
type ResourceModel struct {
	bun.BaseModel `bun:"table:resources"`

	ID          string    `bun:"id,pk"`
	CreatorID   uuid.UUID `bun:"creator_id,notnull,type:uuid"`
	IsBookmarks bool      `bun:"is_bookmarks,notnull"`
	IsQuickFile bool      `bun:"is_quickfiles,notnull"`
}

// OwnershipRepository implements accounts.OwnershipStore using Bun.
type OwnershipRepository struct {
	db *bun.DB
}

// NewOwnershipRepository creates a new repository.
func NewOwnershipRepository(db *bun.DB) *OwnershipRepository {
	return &OwnershipRepository{db: db}
}

// TransferCreatorTx implements accounts.OwnershipStore.
func (r *OwnershipRepository) TransferCreatorTx(ctx context.Context, tx bun.IDB, from, to uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*ResourceModel)(nil)).
		Set("creator_id = ?", to).
		Where("creator_id = ?", from).
		Where("is_bookmarks = ?", false).
		Where("is_quickfiles = ?", false).
		Exec(ctx)
	return err
}
