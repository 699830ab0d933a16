package accounts_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// textCodeOf unwraps the structured error and returns its text code.
func textCodeOf(t *testing.T, err error) string {
	t.Helper()

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich), "expected a structured error, got %T: %v", err, err)
	return rich.TextCode
}

// testConfig is a fixed-value gateway configuration.
type testConfig struct {
	encryptionDisabled bool
}

func (c testConfig) GetSigningKey() string                   { return "test-signing-key" }
func (c testConfig) GetEncryptionKey() string                { return "test-encryption-key" }
func (c testConfig) GetEncryptionDisabled() bool             { return c.encryptionDisabled }
func (c testConfig) GetDomain() string                       { return "https://osf.example/" }
func (c testConfig) GetConfirmationTTL() time.Duration       { return 24 * time.Hour }
func (c testConfig) GetPasswordResetTTL() time.Duration      { return 48 * time.Hour }
func (c testConfig) GetClaimTTL() time.Duration              { return 30 * 24 * time.Hour }
func (c testConfig) GetEmailResendInterval() time.Duration   { return 5 * time.Minute }
func (c testConfig) GetInstitutionJWKSURL() string           { return "" }
func (c testConfig) GetMandatorySubscriptions() []string     { return nil }

// fakeAccounts keeps accounts in memory. The embedded Repository is nil;
// tests touching an unimplemented generic method will panic loudly instead
// of passing silently.
type fakeAccounts struct {
	repository.Repository[*accounts.Account]

	mu      sync.Mutex
	records map[uuid.UUID]*accounts.Account
	emails  *fakeEmails
}

func newFakeAccounts(emails *fakeEmails) *fakeAccounts {
	return &fakeAccounts{
		records: map[uuid.UUID]*accounts.Account{},
		emails:  emails,
	}
}

func (f *fakeAccounts) add(a *accounts.Account) *accounts.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.EnsureMaps()
	f.records[a.ID] = a
	return a
}

func (f *fakeAccounts) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*accounts.Account, error) {
	return f.GetByIdentifierTx(ctx, nil, identifier, criteria...)
}

func (f *fakeAccounts) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, err := uuid.Parse(identifier); err == nil {
		if a, ok := f.records[id]; ok {
			return a, nil
		}
	}
	return f.findByEmailLocked(identifier)
}

func (f *fakeAccounts) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return f.FindByEmailTx(ctx, nil, email)
}

func (f *fakeAccounts) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findByEmailLocked(email)
}

func (f *fakeAccounts) findByEmailLocked(email string) (*accounts.Account, error) {
	normalized := accounts.NormalizeEmail(email)

	for _, a := range f.records {
		if strings.EqualFold(a.Username, normalized) {
			return a, nil
		}
	}
	if f.emails != nil {
		for _, e := range f.emails.rows {
			if e.Address == normalized {
				if a, ok := f.records[e.AccountID]; ok {
					return a, nil
				}
			}
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeAccounts) Create(ctx context.Context, record *accounts.Account, criteria ...repository.InsertCriteria) (*accounts.Account, error) {
	return f.CreateTx(ctx, nil, record, criteria...)
}

func (f *fakeAccounts) CreateTx(ctx context.Context, tx bun.IDB, record *accounts.Account, criteria ...repository.InsertCriteria) (*accounts.Account, error) {
	return f.add(record), nil
}

func (f *fakeAccounts) GetOrCreate(ctx context.Context, record *accounts.Account) (*accounts.Account, error) {
	return f.GetOrCreateTx(ctx, nil, record)
}

func (f *fakeAccounts) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *accounts.Account) (*accounts.Account, error) {
	if existing, err := f.FindByEmailTx(ctx, tx, record.Username); err == nil {
		return existing, nil
	}
	return f.add(record), nil
}

func (f *fakeAccounts) UpdateTx(ctx context.Context, tx bun.IDB, record *accounts.Account, criteria ...repository.UpdateCriteria) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.ID] = record
	return record, nil
}

// fakeEmails keeps confirmed-email rows in memory.
type fakeEmails struct {
	repository.Repository[*accounts.ConfirmedEmail]

	mu   sync.Mutex
	rows []*accounts.ConfirmedEmail
}

func newFakeEmails() *fakeEmails {
	return &fakeEmails{}
}

func (f *fakeEmails) FindByAddress(ctx context.Context, address string) (*accounts.ConfirmedEmail, error) {
	return f.FindByAddressTx(ctx, nil, address)
}

func (f *fakeEmails) FindByAddressTx(ctx context.Context, tx bun.IDB, address string) (*accounts.ConfirmedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	normalized := accounts.NormalizeEmail(address)
	for _, e := range f.rows {
		if e.Address == normalized {
			return e, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeEmails) ForAccount(ctx context.Context, accountID uuid.UUID) ([]*accounts.ConfirmedEmail, error) {
	return f.ForAccountTx(ctx, nil, accountID)
}

func (f *fakeEmails) ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) ([]*accounts.ConfirmedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []*accounts.ConfirmedEmail{}
	for _, e := range f.rows {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEmails) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *accounts.ConfirmedEmail) (*accounts.ConfirmedEmail, error) {
	if existing, err := f.FindByAddressTx(ctx, tx, record.Address); err == nil {
		return existing, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Address = accounts.NormalizeEmail(record.Address)
	f.rows = append(f.rows, record)
	return record, nil
}

func (f *fakeEmails) TransferAllTx(ctx context.Context, tx bun.IDB, from, to uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, e := range f.rows {
		if e.AccountID == from {
			e.AccountID = to
			count++
		}
	}
	return count, nil
}

func (f *fakeEmails) RemoveTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	normalized := accounts.NormalizeEmail(address)
	kept := f.rows[:0]
	for _, e := range f.rows {
		if e.AccountID == accountID && e.Address == normalized {
			continue
		}
		kept = append(kept, e)
	}
	f.rows = kept
	return nil
}

func (f *fakeEmails) DeleteForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.rows[:0]
	for _, e := range f.rows {
		if e.AccountID == accountID {
			continue
		}
		kept = append(kept, e)
	}
	f.rows = kept
	return nil
}

// fakeRepoManager runs "transactions" by invoking the callback with a zero
// bun.Tx; the in-memory fakes ignore it.
type fakeRepoManager struct {
	accounts *fakeAccounts
	emails   *fakeEmails
}

func newFakeRepoManager() *fakeRepoManager {
	emails := newFakeEmails()
	return &fakeRepoManager{
		accounts: newFakeAccounts(emails),
		emails:   emails,
	}
}

func (m *fakeRepoManager) Accounts() accounts.Accounts        { return m.accounts }
func (m *fakeRepoManager) Emails() accounts.ConfirmedEmails   { return m.emails }
func (m *fakeRepoManager) Validate() error                    { return nil }
func (m *fakeRepoManager) MustValidate()                      {}

func (m *fakeRepoManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

// fakeIdentityIndex keeps identity claims in memory.
type fakeIdentityIndex struct {
	mu     sync.Mutex
	claims map[string]map[uuid.UUID]accounts.IdentityStatus
}

func newFakeIdentityIndex() *fakeIdentityIndex {
	return &fakeIdentityIndex{claims: map[string]map[uuid.UUID]accounts.IdentityStatus{}}
}

func identityKey(provider, externalID string) string {
	return provider + "\x00" + externalID
}

func (f *fakeIdentityIndex) FindVerified(ctx context.Context, provider, externalID string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, status := range f.claims[identityKey(provider, externalID)] {
		if status == accounts.IdentityStatusVerified {
			return id, nil
		}
	}
	return uuid.Nil, nil
}

func (f *fakeIdentityIndex) Record(ctx context.Context, accountID uuid.UUID, provider, externalID string, status accounts.IdentityStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := identityKey(provider, externalID)
	if f.claims[key] == nil {
		f.claims[key] = map[uuid.UUID]accounts.IdentityStatus{}
	}
	f.claims[key][accountID] = status
	return nil
}

func (f *fakeIdentityIndex) ClearForAccount(ctx context.Context, accountID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, holders := range f.claims {
		delete(holders, accountID)
	}
	return nil
}

// capturingSink records every activity event it sees.
type capturingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (s *capturingSink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) byType(eventType accounts.ActivityEventType) []accounts.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []accounts.ActivityEvent{}
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// capturingMailer records outbound mail.
type sentMail struct {
	To       string
	Template string
	Context  map[string]any
}

type capturingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *capturingMailer) SendMail(ctx context.Context, to, template string, tplCtx map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Template: template, Context: tplCtx})
	return nil
}

// capturingRevoker records revocations.
type capturingRevoker struct {
	mu      sync.Mutex
	revoked []uuid.UUID
}

func (r *capturingRevoker) RevokeAll(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, accountID)
	return nil
}

// fakeContributors keeps contributor rows in memory.
type fakeContributors struct {
	mu   sync.Mutex
	rows []*accounts.Contributor
}

func (f *fakeContributors) add(c *accounts.Contributor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, c)
}

func (f *fakeContributors) ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, kind accounts.ResourceKind) ([]*accounts.Contributor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []*accounts.Contributor{}
	for _, c := range f.rows {
		if c.AccountID == accountID && c.Kind == kind {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContributors) FindTx(ctx context.Context, tx bun.IDB, resourceID string, kind accounts.ResourceKind, accountID uuid.UUID) (*accounts.Contributor, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.rows {
		if c.ResourceID == resourceID && c.Kind == kind && c.AccountID == accountID {
			return c, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeContributors) UpdateTx(ctx context.Context, tx bun.IDB, contributor *accounts.Contributor) error {
	return nil // rows are shared pointers
}

func (f *fakeContributors) RepointTx(ctx context.Context, tx bun.IDB, contributor *accounts.Contributor, to uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	contributor.AccountID = to
	return nil
}

func (f *fakeContributors) DeleteTx(ctx context.Context, tx bun.IDB, resourceID string, kind accounts.ResourceKind, accountID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.rows[:0]
	for _, c := range f.rows {
		if c.ResourceID == resourceID && c.Kind == kind && c.AccountID == accountID {
			continue
		}
		kept = append(kept, c)
	}
	f.rows = kept
	return nil
}

// fakeQuickFiles keeps quick files in memory and implements both the file
// store and the lock store.
type fakeQuickFiles struct {
	mu    sync.Mutex
	files []*accounts.QuickFile
	locks map[uuid.UUID]uuid.UUID // fileID -> holder
}

func newFakeQuickFiles() *fakeQuickFiles {
	return &fakeQuickFiles{locks: map[uuid.UUID]uuid.UUID{}}
}

func (f *fakeQuickFiles) add(accountID uuid.UUID, name string) *accounts.QuickFile {
	f.mu.Lock()
	defer f.mu.Unlock()

	file := &accounts.QuickFile{ID: uuid.New(), AccountID: accountID, Name: name}
	f.files = append(f.files, file)
	return file
}

func (f *fakeQuickFiles) ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) ([]*accounts.QuickFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []*accounts.QuickFile{}
	for _, file := range f.files {
		if file.AccountID == accountID {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeQuickFiles) ExistsTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, file := range f.files {
		if file.AccountID == accountID && file.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeQuickFiles) MoveTx(ctx context.Context, tx bun.IDB, fileID, to uuid.UUID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, file := range f.files {
		if file.ID == fileID {
			file.AccountID = to
			file.Name = name
			return nil
		}
	}
	return nil
}

func (f *fakeQuickFiles) ReassignLocksTx(ctx context.Context, tx bun.IDB, from, to uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for fileID, holder := range f.locks {
		if holder == from {
			f.locks[fileID] = to
			count++
		}
	}
	return count, nil
}

// fakeGroups keeps memberships in memory.
type fakeGroups struct {
	mu   sync.Mutex
	rows []*accounts.GroupMembership
}

func (f *fakeGroups) add(groupID string, accountID uuid.UUID, role accounts.GroupRole) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, &accounts.GroupMembership{GroupID: groupID, AccountID: accountID, Role: role})
}

func (f *fakeGroups) ForAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) ([]*accounts.GroupMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []*accounts.GroupMembership{}
	for _, m := range f.rows {
		if m.AccountID == accountID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeGroups) RoleOfTx(ctx context.Context, tx bun.IDB, groupID string, accountID uuid.UUID) (accounts.GroupRole, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.rows {
		if m.GroupID == groupID && m.AccountID == accountID {
			return m.Role, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeGroups) SetRoleTx(ctx context.Context, tx bun.IDB, groupID string, accountID uuid.UUID, role accounts.GroupRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.rows {
		if m.GroupID == groupID && m.AccountID == accountID {
			m.Role = role
			return nil
		}
	}
	f.rows = append(f.rows, &accounts.GroupMembership{GroupID: groupID, AccountID: accountID, Role: role})
	return nil
}

func (f *fakeGroups) RemoveTx(ctx context.Context, tx bun.IDB, groupID string, accountID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.rows[:0]
	for _, m := range f.rows {
		if m.GroupID == groupID && m.AccountID == accountID {
			continue
		}
		kept = append(kept, m)
	}
	f.rows = kept
	return nil
}

// fakeOwnership records creator transfers.
type fakeOwnership struct {
	mu        sync.Mutex
	transfers [][2]uuid.UUID
}

func (f *fakeOwnership) TransferCreatorTx(ctx context.Context, tx bun.IDB, from, to uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, [2]uuid.UUID{from, to})
	return nil
}

// fakeIntegration is a single attached integration.
type fakeIntegration struct {
	provider  string
	mergeable bool
	merged    bool
	failWith  error
}

func (i *fakeIntegration) Provider() string   { return i.provider }
func (i *fakeIntegration) CanBeMerged() bool  { return i.mergeable }

func (i *fakeIntegration) MergeSettings(ctx context.Context, source, target *accounts.Account) error {
	if i.failWith != nil {
		return i.failWith
	}
	i.merged = true
	return nil
}
