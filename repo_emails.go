package accounts

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConfirmedEmails is the repository for globally unique confirmed addresses.
type ConfirmedEmails interface {
	repository.Repository[*ConfirmedEmail]

	FindByAddress(ctx context.Context, address string) (*ConfirmedEmail, error)
	FindByAddressTx(ctx context.Context, tx bun.IDB, address string) (*ConfirmedEmail, error)

	ForAccount(ctx context.Context, accountID uuid.UUID) ([]*ConfirmedEmail, error)
	ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) ([]*ConfirmedEmail, error)

	// TransferAll re-points every confirmed address from one account to
	// another, preserving the rows. Returns the number of rows moved.
	TransferAllTx(ctx context.Context, tx bun.IDB, from, to uuid.UUID) (int, error)

	RemoveTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, address string) error
	DeleteForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) error
}

type confirmedEmailsRepo struct {
	repository.Repository[*ConfirmedEmail]
	db *bun.DB
}

var _ ConfirmedEmails = (*confirmedEmailsRepo)(nil)

// NewConfirmedEmailsRepository builds the Bun-backed confirmed-emails repository.
func NewConfirmedEmailsRepository(db *bun.DB) ConfirmedEmails {
	repo := repository.NewRepository[*ConfirmedEmail](db, repository.ModelHandlers[*ConfirmedEmail]{
		NewRecord: func() *ConfirmedEmail { return &ConfirmedEmail{} },
		GetID: func(e *ConfirmedEmail) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *ConfirmedEmail, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
		GetIdentifier: func() string {
			return "address"
		},
	})

	return &confirmedEmailsRepo{
		Repository: repo,
		db:         db,
	}
}

func (r *confirmedEmailsRepo) FindByAddress(ctx context.Context, address string) (*ConfirmedEmail, error) {
	return r.FindByAddressTx(ctx, r.db, address)
}

func (r *confirmedEmailsRepo) FindByAddressTx(ctx context.Context, tx bun.IDB, address string) (*ConfirmedEmail, error) {
	record := &ConfirmedEmail{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.address = ?", NormalizeEmail(address)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"address": NormalizeEmail(address)})
		}
		return nil, err
	}

	return record, nil
}

func (r *confirmedEmailsRepo) ForAccount(ctx context.Context, accountID uuid.UUID) ([]*ConfirmedEmail, error) {
	return r.ForAccountTx(ctx, r.db, accountID)
}

func (r *confirmedEmailsRepo) ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) ([]*ConfirmedEmail, error) {
	var records []*ConfirmedEmail
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *confirmedEmailsRepo) TransferAllTx(ctx context.Context, tx bun.IDB, from, to uuid.UUID) (int, error) {
	res, err := tx.NewUpdate().
		Model((*ConfirmedEmail)(nil)).
		Set("account_id = ?", to).
		Where("account_id = ?", from).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	moved, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(moved), nil
}

func (r *confirmedEmailsRepo) RemoveTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, address string) error {
	_, err := tx.NewDelete().
		Model((*ConfirmedEmail)(nil)).
		Where("account_id = ?", accountID).
		Where("address = ?", NormalizeEmail(address)).
		Exec(ctx)
	return err
}

func (r *confirmedEmailsRepo) DeleteForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*ConfirmedEmail)(nil)).
		Where("account_id = ?", accountID).
		Exec(ctx)
	return err
}
