package accounts

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the account repository contract.
type Accounts interface {
	repository.Repository[*Account]

	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)

	GetOrCreate(ctx context.Context, record *Account) (*Account, error)
	GetOrCreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error)

	Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error)
}

type accountsRepo struct {
	repository.Repository[*Account]
	db     *bun.DB
	emails ConfirmedEmails
}

var (
	_ Accounts                        = (*accountsRepo)(nil)
	_ repository.Repository[*Account] = (*accountsRepo)(nil)
)

// NewAccountsRepository builds the Bun-backed accounts repository. The
// confirmed-emails repository resolves identifier lookups by address.
func NewAccountsRepository(db *bun.DB, emails ConfirmedEmails) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})

	return &accountsRepo{
		Repository: repo,
		db:         db,
		emails:     emails,
	}
}

// GetByIdentifier resolves id, confirmed email, or username, in that order.
func (a *accountsRepo) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *accountsRepo) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	trimmed := strings.TrimSpace(identifier)

	if isAccountUUID(trimmed) {
		record, err := a.selectOne(ctx, tx, "id", trimmed, criteria...)
		if err == nil {
			return record, nil
		}
		if !repository.IsRecordNotFound(err) {
			return nil, err
		}
	}

	if isEmailAddress(trimmed) {
		record, err := a.FindByEmailTx(ctx, tx, trimmed)
		if err == nil {
			return record, nil
		}
		if !repository.IsRecordNotFound(err) {
			return nil, err
		}
	}

	record, err := a.selectOne(ctx, tx, "username", trimmed, criteria...)
	if err == nil {
		return record, nil
	}
	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

// FindByEmail resolves an account by username match or by any confirmed
// address. Addresses are normalized before comparison.
func (a *accountsRepo) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *accountsRepo) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	normalized := NormalizeEmail(email)

	record, err := a.selectOne(ctx, tx, "username", normalized)
	if err == nil {
		return record, nil
	}
	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	confirmed, err := a.emails.FindByAddressTx(ctx, tx, normalized)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": normalized})
		}
		return nil, err
	}

	return a.selectOne(ctx, tx, "id", confirmed.AccountID.String())
}

func (a *accountsRepo) Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *accountsRepo) CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	prepareAccountDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *accountsRepo) GetOrCreate(ctx context.Context, record *Account) (*Account, error) {
	return a.GetOrCreateTx(ctx, a.db, record)
}

func (a *accountsRepo) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	identifier := record.Username
	if record.ID != uuid.Nil {
		identifier = record.ID.String()
	}

	account, err := a.GetByIdentifierTx(ctx, tx, identifier)
	if err == nil {
		return account, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return a.CreateTx(ctx, tx, record)
}

func (a *accountsRepo) selectOne(ctx context.Context, tx bun.IDB, column, value string, criteria ...repository.SelectCriteria) (*Account, error) {
	record := &Account{}
	q := tx.NewSelect().Model(record)

	for _, c := range criteria {
		q.Apply(c)
	}

	err := q.
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{column: value})
		}
		return nil, err
	}

	return record, nil
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	record.EnsureMaps()
	record.Username = NormalizeEmail(record.Username)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func isEmailAddress(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isAccountUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
