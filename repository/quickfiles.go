package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// QuickFileModel is the Bun model for quick files.
type QuickFileModel struct {
	bun.BaseModel `bun:"table:quick_files"`

	ID           uuid.UUID  `bun:"id,pk,nullzero,type:uuid"`
	AccountID    uuid.UUID  `bun:"account_id,notnull,type:uuid"`
	Name         string     `bun:"name,notnull"`
	CheckedOutBy *uuid.UUID `bun:"checked_out_by,type:uuid"`
}

// QuickFileRepository implements accounts.QuickFileStore and
// accounts.FileLockStore using Bun.
type QuickFileRepository struct {
	db *bun.DB
}

// NewQuickFileRepository creates a new repository.
func NewQuickFileRepository(db *bun.DB) *QuickFileRepository {
	return &QuickFileRepository{db: db}
}

// ForAccountTx implements accounts.QuickFileStore.
func (r *QuickFileRepository) ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) ([]*accounts.QuickFile, error) {
	var models []QuickFileModel
	err := tx.NewSelect().
		Model(&models).
		Where("account_id = ?", accountID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*accounts.QuickFile{}, nil
		}
		return nil, err
	}

	files := make([]*accounts.QuickFile, len(models))
	for i, m := range models {
		files[i] = &accounts.QuickFile{
			ID:        m.ID,
			AccountID: m.AccountID,
			Name:      m.Name,
		}
	}
	return files, nil
}

// ExistsTx implements accounts.QuickFileStore.
func (r *QuickFileRepository) ExistsTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, name string) (bool, error) {
	return tx.NewSelect().
		Model((*QuickFileModel)(nil)).
		Where("account_id = ? AND name = ?", accountID, name).
		Exists(ctx)
}

// MoveTx implements accounts.QuickFileStore.
func (r *QuickFileRepository) MoveTx(ctx context.Context, tx bun.IDB, fileID, to uuid.UUID, name string) error {
	_, err := tx.NewUpdate().
		Model((*QuickFileModel)(nil)).
		Set("account_id = ?", to).
		Set("name = ?", name).
		Where("id = ?", fileID).
		Exec(ctx)
	return err
}

// ReassignLocksTx implements accounts.FileLockStore.
func (r *QuickFileRepository) ReassignLocksTx(ctx context.Context, tx bun.IDB, from, to uuid.UUID) (int, error) {
	res, err := tx.NewUpdate().
		Model((*QuickFileModel)(nil)).
		Set("checked_out_by = ?", to).
		Where("checked_out_by = ?", from).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
