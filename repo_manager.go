package accounts

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes the core-owned repositories plus the
// transactional boundary every account mutation runs under.
type RepositoryManager interface {
	Accounts() Accounts
	Emails() ConfirmedEmails
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Validate() error
	MustValidate()
}

type mngr struct {
	db       *bun.DB
	accounts Accounts
	emails   ConfirmedEmails
}

// NewRepositoryManager wires the default Bun repositories.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	emails := NewConfirmedEmailsRepository(db)
	return &mngr{
		db:       db,
		emails:   emails,
		accounts: NewAccountsRepository(db, emails),
	}
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) Emails() ConfirmedEmails {
	return m.emails
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.emails == nil {
		return errors.New("repository emails should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}
