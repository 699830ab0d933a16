package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Merger consolidates a source account into a target. Implemented by the
// MergeEngine; declared here so the registry can trigger shadow-account
// claims without a package cycle on construction order.
type Merger interface {
	Merge(ctx context.Context, tx bun.IDB, source, target *Account) ([]Event, error)
}

// EmailRegistry enforces global uniqueness of confirmed addresses and the
// pending-confirmation bookkeeping on top of the token vault.
type EmailRegistry struct {
	repo   RepositoryManager
	vault  *TokenVault
	merger Merger
	clock  Clock
	logger Logger

	resendInterval time.Duration
}

// RegistryOption customizes registry construction.
type RegistryOption func(*EmailRegistry)

// WithRegistryClock injects a custom clock.
func WithRegistryClock(clock Clock) RegistryOption {
	return func(r *EmailRegistry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRegistryLogger overrides the registry logger.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *EmailRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryMerger wires the merge engine used for collision opt-ins and
// shadow-account claims.
func WithRegistryMerger(m Merger) RegistryOption {
	return func(r *EmailRegistry) {
		r.merger = m
	}
}

// WithResendInterval sets the minimum gap between confirmation sends.
func WithResendInterval(d time.Duration) RegistryOption {
	return func(r *EmailRegistry) {
		if d > 0 {
			r.resendInterval = d
		}
	}
}

// NewEmailRegistry builds the registry.
func NewEmailRegistry(repo RepositoryManager, vault *TokenVault, opts ...RegistryOption) *EmailRegistry {
	r := &EmailRegistry{
		repo:           repo,
		vault:          vault,
		clock:          time.Now,
		logger:         defLogger{},
		resendInterval: DefaultResendInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// DefaultResendInterval is the minimum gap between confirmation emails for
// the same account.
const DefaultResendInterval = 5 * time.Minute

// AddUnconfirmed registers a pending verification for email and returns the
// token. It fails ALREADY_CONFIRMED when the address is already confirmed on
// this same account, unless an external-identity context is present, which
// allows re-verification flows. A live entry for the same address is
// superseded, never duplicated.
func (r *EmailRegistry) AddUnconfirmed(ctx context.Context, account *Account, email string, externalIdentity map[string]string) (string, error) {
	normalized := NormalizeEmail(email)

	confirmed, err := r.ownsConfirmed(ctx, account, normalized)
	if err != nil {
		return "", err
	}
	if confirmed && externalIdentity == nil {
		return "", ErrAlreadyConfirmed.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
			"email":      normalized,
		})
	}

	issued := r.vault.ForceRenew(account, normalized, TokenKindConfirm)
	if externalIdentity != nil {
		account.EmailVerifications[issued.Token].ExternalIdentity = externalIdentity
	}

	return issued.Token, nil
}

// ThrottleResend is the throttle decision for confirmation resends: it fails
// EMAIL_THROTTLED inside the minimum window and otherwise stamps the send.
func (r *EmailRegistry) ThrottleResend(account *Account) error {
	now := r.clock.Now()
	if account.EmailLastSentAt != nil && now.Sub(*account.EmailLastSentAt) < r.resendInterval {
		return ErrEmailThrottled.WithMetadata(map[string]any{
			"account_id":   account.ID.String(),
			"last_sent_at": account.EmailLastSentAt,
		})
	}
	account.EmailLastSentAt = &now
	return nil
}

// ConfirmResult reports the outcome of a token confirmation.
type ConfirmResult struct {
	Email string
	// FullyRegistered is set when the confirmed address equals the
	// account's own primary username and registration completed.
	FullyRegistered bool
	// MergedShadow is the placeholder account subsumed by the claim, if any.
	MergedShadow *Account
	// MergedCollision is the colliding account merged on explicit opt-in.
	MergedCollision *Account
	Events          []Event
}

type confirmOptions struct {
	mergeOptIn bool
}

// ConfirmOption customizes confirmation behavior.
type ConfirmOption func(*confirmOptions)

// WithMergeOptIn lets confirmation proceed when the address is already
// confirmed on another account, merging that account into this one.
func WithMergeOptIn() ConfirmOption {
	return func(o *confirmOptions) {
		o.mergeOptIn = true
	}
}

// Confirm consumes the token and confirms its address. Collisions with
// another account's confirmed address fail MERGE_CONFIRMATION_REQUIRED
// unless the caller opted into merging. A never-registered account whose
// username equals the address (a shadow created by invitation) is merged in
// automatically. The account row is mutated but not persisted; callers
// commit within their transaction.
func (r *EmailRegistry) Confirm(ctx context.Context, tx bun.IDB, account *Account, token string, opts ...ConfirmOption) (*ConfirmResult, error) {
	options := &confirmOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	// re-validate inside the caller's transaction so a single-use token
	// cannot be double-spent by concurrent requests
	email, err := r.vault.Validate(account, token)
	if err != nil {
		return nil, err
	}

	result := &ConfirmResult{Email: email}

	other, err := r.confirmedHolder(ctx, tx, email)
	if err != nil {
		return nil, err
	}

	if other != nil && other.ID != account.ID {
		if !options.mergeOptIn {
			return nil, MergeConfirmationRequired(account, other)
		}
		if r.merger == nil {
			return nil, ErrMergeConflict.WithMetadata(map[string]any{
				"reason": "no merge engine configured",
			})
		}
		events, err := r.merger.Merge(ctx, tx, other, account)
		if err != nil {
			return nil, err
		}
		result.MergedCollision = other
		result.Events = append(result.Events, events...)
	}

	shadow, err := r.shadowHolder(ctx, tx, account, email)
	if err != nil {
		return nil, err
	}
	if shadow != nil {
		if r.merger == nil {
			return nil, ErrMergeConflict.WithMetadata(map[string]any{
				"reason": "no merge engine configured",
			})
		}
		events, err := r.merger.Merge(ctx, tx, shadow, account)
		if err != nil {
			return nil, err
		}
		result.MergedShadow = shadow
		result.Events = append(result.Events, events...)
	}

	if _, err := r.vault.Consume(account, token); err != nil {
		return nil, err
	}

	if _, err := r.repo.Emails().GetOrCreateTx(ctx, tx, &ConfirmedEmail{
		AccountID: account.ID,
		Address:   email,
	}); err != nil {
		return nil, err
	}

	// confirmation completes registration only for the account's own
	// primary address
	if NormalizeEmail(account.Username) == email && !account.IsConfirmed() {
		now := r.clock.Now()
		account.DateConfirmed = &now
		account.IsRegistered = true
		result.FullyRegistered = true
		result.Events = append(result.Events, NewEvent(EventEmailConfirmed, account.ID, map[string]any{
			"email":      email,
			"registered": true,
		}))
	} else {
		result.Events = append(result.Events, NewEvent(EventEmailConfirmed, account.ID, map[string]any{
			"email": email,
		}))
	}

	return result, nil
}

// Remove deletes a confirmed address. The account's primary (sole) address
// is never removable.
func (r *EmailRegistry) Remove(ctx context.Context, tx bun.IDB, account *Account, email string) error {
	normalized := NormalizeEmail(email)

	if NormalizeEmail(account.Username) == normalized {
		return ErrUserStateError.WithMetadata(map[string]any{
			"reason": "cannot remove primary address",
			"email":  normalized,
		})
	}

	owned, err := r.ownsConfirmedTx(ctx, tx, account, normalized)
	if err != nil {
		return err
	}
	if !owned {
		return ErrEmailNotFound.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
			"email":      normalized,
		})
	}

	return r.repo.Emails().RemoveTx(ctx, tx, account.ID, normalized)
}

func (r *EmailRegistry) ownsConfirmed(ctx context.Context, account *Account, email string) (bool, error) {
	record, err := r.repo.Emails().FindByAddress(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return record.AccountID == account.ID, nil
}

func (r *EmailRegistry) ownsConfirmedTx(ctx context.Context, tx bun.IDB, account *Account, email string) (bool, error) {
	record, err := r.repo.Emails().FindByAddressTx(ctx, tx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return record.AccountID == account.ID, nil
}

func (r *EmailRegistry) confirmedHolder(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	record, err := r.repo.Emails().FindByAddressTx(ctx, tx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	holder, err := r.repo.Accounts().GetByIdentifierTx(ctx, tx, record.AccountID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return holder, nil
}

// shadowHolder finds a placeholder account whose username equals the email
// but which was never fully registered, created when inviting an
// unregistered contributor.
func (r *EmailRegistry) shadowHolder(ctx context.Context, tx bun.IDB, account *Account, email string) (*Account, error) {
	candidate, err := r.repo.Accounts().FindByEmailTx(ctx, tx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if candidate.ID == account.ID {
		return nil, nil
	}
	if candidate.IsRegistered || candidate.IsMerged() {
		return nil, nil
	}
	if NormalizeEmail(candidate.Username) != NormalizeEmail(email) {
		return nil, nil
	}

	return candidate, nil
}
