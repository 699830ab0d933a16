package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MailingListService is the outbound mailing-list collaborator. Unsubscribe
// failures during disable are swallowed unless the list is configured as
// mandatory.
type MailingListService interface {
	Unsubscribe(ctx context.Context, account *Account, list string) error
}

// MailingListServiceFunc adapts a function to the MailingListService interface.
type MailingListServiceFunc func(ctx context.Context, account *Account, list string) error

// Unsubscribe implements MailingListService.
func (f MailingListServiceFunc) Unsubscribe(ctx context.Context, account *Account, list string) error {
	if f == nil {
		return nil
	}
	return f(ctx, account, list)
}

type noopMailingLists struct{}

func (noopMailingLists) Unsubscribe(context.Context, *Account, string) error { return nil }

// ErasureResources answers the resource-side questions GDPR erasure depends
// on, and soft-deletes the personal resources the account solely admins.
type ErasureResources interface {
	HasRegistrations(ctx context.Context, accountID uuid.UUID) (bool, error)
	HasPublicPreprints(ctx context.Context, accountID uuid.UUID) (bool, error)
	SoleAdminSharedResources(ctx context.Context, accountID uuid.UUID) ([]string, error)
	SoleManagerGroupsWithMembers(ctx context.Context, accountID uuid.UUID) ([]string, error)
	SoftDeletePersonalResources(ctx context.Context, accountID uuid.UUID) error
}

type noopErasureResources struct{}

func (noopErasureResources) HasRegistrations(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}
func (noopErasureResources) HasPublicPreprints(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}
func (noopErasureResources) SoleAdminSharedResources(context.Context, uuid.UUID) ([]string, error) {
	return nil, nil
}
func (noopErasureResources) SoleManagerGroupsWithMembers(context.Context, uuid.UUID) ([]string, error) {
	return nil, nil
}
func (noopErasureResources) SoftDeletePersonalResources(context.Context, uuid.UUID) error {
	return nil
}

// AccountStateMachine derives and enforces account status and exposes the
// lifecycle transitions.
type AccountStateMachine struct {
	repo          RepositoryManager
	registry      *EmailRegistry
	vault         *TokenVault
	sessions      SessionRevoker
	mailer        Mailer
	indexer       SearchIndexer
	mailingLists  MailingListService
	identityIndex IdentityIndex
	erasure       ErasureResources
	activitySink  ActivitySink
	clock         Clock
	logger        Logger

	// campaign marker -> system tag applied at creation
	campaigns map[string]string
	// mailing lists that must not be silently dropped on disable
	mandatoryLists map[string]bool

	transitions map[AccountStatus]map[AccountStatus]struct{}
}

// StateMachineOption customizes construction.
type StateMachineOption func(*AccountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock Clock) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if clock != nil {
			sm.clock = clock
		}
	}
}

// WithStateMachineLogger overrides the logger.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineActivitySink sets the sink lifecycle events are published to.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineSessions sets the session revoker.
func WithStateMachineSessions(s SessionRevoker) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.sessions = normalizeSessionRevoker(s)
	}
}

// WithStateMachineMailer sets the outbound mail collaborator.
func WithStateMachineMailer(m Mailer) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.mailer = normalizeMailer(m)
	}
}

// WithStateMachineIndexer sets the search-index collaborator.
func WithStateMachineIndexer(s SearchIndexer) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.indexer = normalizeIndexer(s)
	}
}

// WithStateMachineMailingLists sets the mailing-list collaborator.
func WithStateMachineMailingLists(m MailingListService) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if m != nil {
			sm.mailingLists = m
		}
	}
}

// WithStateMachineIdentityIndex sets the external-identity index so erasure
// can clear claims.
func WithStateMachineIdentityIndex(idx IdentityIndex) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.identityIndex = idx
	}
}

// WithStateMachineErasureResources sets the resource-side erasure collaborator.
func WithStateMachineErasureResources(e ErasureResources) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if e != nil {
			sm.erasure = e
		}
	}
}

// WithStateMachineCampaigns registers the recognized campaign markers and
// the system tags they apply.
func WithStateMachineCampaigns(campaigns map[string]string) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if len(campaigns) > 0 {
			sm.campaigns = campaigns
		}
	}
}

// WithStateMachineMandatoryLists marks mailing lists whose unsubscribe
// failures must fail the disable operation.
func WithStateMachineMandatoryLists(lists ...string) StateMachineOption {
	return func(sm *AccountStateMachine) {
		for _, l := range lists {
			sm.mandatoryLists[l] = true
		}
	}
}

// NewAccountStateMachine builds the default state machine.
func NewAccountStateMachine(repo RepositoryManager, registry *EmailRegistry, vault *TokenVault, opts ...StateMachineOption) *AccountStateMachine {
	sm := &AccountStateMachine{
		repo:           repo,
		registry:       registry,
		vault:          vault,
		sessions:       noopSessionRevoker{},
		mailer:         noopMailer{},
		indexer:        noopIndexer{},
		mailingLists:   noopMailingLists{},
		erasure:        noopErasureResources{},
		activitySink:   noopActivitySink{},
		clock:          time.Now,
		logger:         defLogger{},
		campaigns:      map[string]string{},
		mandatoryLists: map[string]bool{},
		transitions: map[AccountStatus]map[AccountStatus]struct{}{
			AccountStatusUnregistered: {
				AccountStatusUnconfirmed: {},
				AccountStatusActive:      {},
				AccountStatusMerged:      {},
				AccountStatusDeleted:     {},
			},
			AccountStatusUnconfirmed: {
				AccountStatusActive:   {},
				AccountStatusDisabled: {},
				AccountStatusMerged:   {},
				AccountStatusDeleted:  {},
			},
			AccountStatusActive: {
				AccountStatusDisabled: {},
				AccountStatusMerged:   {},
				AccountStatusDeleted:  {},
			},
			AccountStatusDisabled: {
				AccountStatusActive:  {},
				AccountStatusMerged:  {},
				AccountStatusDeleted: {},
			},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

func (sm *AccountStateMachine) canTransition(from, to AccountStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *AccountStateMachine) guardTransition(account *Account, to AccountStatus) error {
	from := account.Status()
	if !sm.canTransition(from, to) {
		return ErrUserStateError.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
			"from":       from,
			"to":         to,
		})
	}
	return nil
}

// CreateUnconfirmedTx creates a self-registered account awaiting email
// confirmation and returns it together with the confirmation token.
func (sm *AccountStateMachine) CreateUnconfirmedTx(ctx context.Context, tx bun.IDB, email, password, fullname, campaign string) (*Account, string, error) {
	normalized := NormalizeEmail(email)

	if existing, err := sm.repo.Accounts().FindByEmailTx(ctx, tx, normalized); err == nil && existing != nil {
		return nil, "", ErrAlreadyRegistered.WithMetadata(map[string]any{
			"email": normalized,
		})
	} else if err != nil && !isNotFound(err) {
		return nil, "", err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	account := &Account{
		Username:     normalized,
		Fullname:     fullname,
		PasswordHash: hash,
		IsRegistered: true,
	}
	account.EnsureMaps()

	if tag, ok := sm.campaigns[campaign]; ok && campaign != "" {
		account.SystemTags = append(account.SystemTags, tag)
	}

	token, err := sm.registry.AddUnconfirmed(ctx, account, normalized, nil)
	if err != nil {
		return nil, "", err
	}

	account, err = sm.repo.Accounts().CreateTx(ctx, tx, account)
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
	}

	now := sm.clock.Now()
	account.EmailLastSentAt = &now

	sm.sendMail(ctx, normalized, "confirm_registration", map[string]any{
		"fullname": fullname,
		"token":    token,
	})

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventStatusChanged,
		AccountID: account.ID.String(),
		ToStatus:  AccountStatusUnconfirmed,
	})

	return account, token, nil
}

// CreateUnregisteredTx creates (or returns) the shadow placeholder for an
// invited contributor, recording the claim token for the referring resource.
// The placeholder id is deterministic on the normalized email so repeated
// invitations reuse the same row.
func (sm *AccountStateMachine) CreateUnregisteredTx(ctx context.Context, tx bun.IDB, email, fullname, referrerID, resourceID string) (*Account, string, error) {
	normalized := NormalizeEmail(email)

	account := &Account{
		Username:  normalized,
		Fullname:  fullname,
		IsInvited: true,
	}
	if id, err := hashid.NewUUID(normalized); err == nil {
		account.ID = id
	}

	account, err := sm.repo.Accounts().GetOrCreateTx(ctx, tx, account)
	if err != nil {
		return nil, "", err
	}

	if account.IsRegistered {
		return nil, "", ErrAlreadyRegistered.WithMetadata(map[string]any{
			"email": normalized,
		})
	}

	account.EnsureMaps()
	issued := sm.vault.Issue(TokenKindClaim)
	expires := issued.Expires
	account.UnclaimedRecords[resourceID] = &UnclaimedRecord{
		Name:       fullname,
		Email:      normalized,
		ReferrerID: referrerID,
		Token:      issued.Token,
		Expires:    &expires,
	}

	if _, err := sm.repo.Accounts().UpdateTx(ctx, tx, account); err != nil {
		return nil, "", err
	}

	return account, issued.Token, nil
}

// RegisterTx completes full registration for email: sets it as the primary
// username, confirms it, and stamps the confirmation date. Idempotent once
// the account is already active on that address.
func (sm *AccountStateMachine) RegisterTx(ctx context.Context, tx bun.IDB, account *Account, email string) (*Account, error) {
	normalized := NormalizeEmail(email)

	if account.IsActive() && NormalizeEmail(account.Username) == normalized {
		return account, nil
	}

	account.Username = normalized
	account.IsRegistered = true
	if !account.IsConfirmed() {
		now := sm.clock.Now()
		account.DateConfirmed = &now
	}

	if _, err := sm.repo.Emails().GetOrCreateTx(ctx, tx, &ConfirmedEmail{
		AccountID: account.ID,
		Address:   normalized,
	}); err != nil {
		return nil, err
	}

	account, err := sm.repo.Accounts().UpdateTx(ctx, tx, account)
	if err != nil {
		return nil, err
	}

	sm.notifyIndex(ctx, account)

	return account, nil
}

// DisableTx deactivates the account: stamps dateDisabled, revokes all live
// sessions, and unsubscribes outbound mailing lists best-effort.
func (sm *AccountStateMachine) DisableTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if err := sm.guardTransition(account, AccountStatusDisabled); err != nil {
		return nil, err
	}

	from := account.Status()
	now := sm.clock.Now()
	account.DateDisabled = &now
	account.DeactivationRequested = false

	for list, subscribed := range account.MailingLists {
		if !subscribed {
			continue
		}
		if err := sm.mailingLists.Unsubscribe(ctx, account, list); err != nil {
			if sm.mandatoryLists[list] {
				return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to unsubscribe mandatory list").
					WithMetadata(map[string]any{"list": list})
			}
			sm.logger.Warn("mailing list unsubscribe failed: list=%s err=%v", list, err)
		}
		account.MailingLists[list] = false
	}

	if err := sm.sessions.RevokeAll(ctx, account.ID); err != nil {
		return nil, err
	}

	account, err := sm.repo.Accounts().UpdateTx(ctx, tx, account)
	if err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventStatusChanged,
		AccountID:  account.ID.String(),
		FromStatus: from,
		ToStatus:   AccountStatusDisabled,
	})

	return account, nil
}

// ReactivateTx clears the disabled stamp.
func (sm *AccountStateMachine) ReactivateTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if !account.IsDisabled() {
		return account, nil
	}
	if err := sm.guardTransition(account, AccountStatusActive); err != nil {
		return nil, err
	}

	account.DateDisabled = nil
	account.DeactivationRequested = false

	account, err := sm.repo.Accounts().UpdateTx(ctx, tx, account)
	if err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventStatusChanged,
		AccountID:  account.ID.String(),
		FromStatus: AccountStatusDisabled,
		ToStatus:   account.Status(),
	})

	return account, nil
}

// GDPRDeleteTx scrubs PII in place. The row is retained for referential
// integrity of content the account still nominally owns. Deletion must not
// orphan shared resources, so eligibility is gated first.
func (sm *AccountStateMachine) GDPRDeleteTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if err := sm.guardTransition(account, AccountStatusDeleted); err != nil {
		return nil, err
	}

	if err := sm.checkErasureEligibility(ctx, account); err != nil {
		return nil, err
	}

	if err := sm.erasure.SoftDeletePersonalResources(ctx, account.ID); err != nil {
		return nil, err
	}

	now := sm.clock.Now()
	if !account.IsDisabled() {
		account.DateDisabled = &now
	}

	if err := sm.repo.Emails().DeleteForAccountTx(ctx, tx, account.ID); err != nil {
		return nil, err
	}

	if sm.identityIndex != nil {
		if err := sm.identityIndex.ClearForAccount(ctx, account.ID); err != nil {
			return nil, err
		}
	}

	scrubAccount(account)
	account.Deleted = &now

	if err := sm.sessions.RevokeAll(ctx, account.ID); err != nil {
		return nil, err
	}

	account, err := sm.repo.Accounts().UpdateTx(ctx, tx, account)
	if err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventErasure,
		AccountID: account.ID.String(),
		ToStatus:  AccountStatusDeleted,
	})

	return account, nil
}

func (sm *AccountStateMachine) checkErasureEligibility(ctx context.Context, account *Account) error {
	hasRegs, err := sm.erasure.HasRegistrations(ctx, account.ID)
	if err != nil {
		return err
	}
	if hasRegs {
		return ErrUserStateError.WithMetadata(map[string]any{
			"reason": "account has registrations",
		})
	}

	hasPreprints, err := sm.erasure.HasPublicPreprints(ctx, account.ID)
	if err != nil {
		return err
	}
	if hasPreprints {
		return ErrUserStateError.WithMetadata(map[string]any{
			"reason": "account has public preprints",
		})
	}

	soleAdmin, err := sm.erasure.SoleAdminSharedResources(ctx, account.ID)
	if err != nil {
		return err
	}
	if len(soleAdmin) > 0 {
		return ErrUserStateError.WithMetadata(map[string]any{
			"reason":    "account is sole admin on shared resources",
			"resources": soleAdmin,
		})
	}

	soleManager, err := sm.erasure.SoleManagerGroupsWithMembers(ctx, account.ID)
	if err != nil {
		return err
	}
	if len(soleManager) > 0 {
		return ErrUserStateError.WithMetadata(map[string]any{
			"reason": "account is sole registered manager of groups with members",
			"groups": soleManager,
		})
	}

	return nil
}

func scrubAccount(account *Account) {
	account.Fullname = ""
	account.GivenName = ""
	account.MiddleNames = ""
	account.FamilyName = ""
	account.Suffix = ""
	account.Jobs = nil
	account.Schools = nil
	account.Social = nil
	account.ExternalIdentities = map[string]map[string]string{}
	account.ExternalAccounts = nil
	account.MailingLists = map[string]bool{}
	account.Notifications = map[string]bool{}
	account.EmailVerifications = map[string]*EmailVerification{}
	account.PasswordHash = ""
	account.VerificationKey = ""
	account.ActionToken = ActionToken{}
	account.TwoFactorSecret = ""
}

func (sm *AccountStateMachine) sendMail(ctx context.Context, to, template string, tplCtx map[string]any) {
	if err := sm.mailer.SendMail(ctx, to, template, tplCtx); err != nil {
		sm.logger.Warn("outbound mail failed: template=%s err=%v", template, err)
	}
}

func (sm *AccountStateMachine) notifyIndex(ctx context.Context, account *Account) {
	if err := sm.indexer.NotifySearchIndex(ctx, account); err != nil {
		sm.logger.Warn("search reindex failed: account=%s err=%v", account.ID, err)
	}
}

func (sm *AccountStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.clock.Now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func isNotFound(err error) bool {
	return goerrors.IsNotFound(err)
}
