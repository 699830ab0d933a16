package accounts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MergeEngine consolidates a source account into a target without data loss
// or duplication. The whole operation is expected to run inside a single
// transaction supplied by the caller; steps already committed before a
// failing step are not rolled back here.
type MergeEngine struct {
	repo          RepositoryManager
	contributors  ContributorStore
	quickFiles    QuickFileStore
	fileLocks     FileLockStore
	ownership     OwnershipStore
	groups        GroupStore
	integrations  IntegrationStore
	sessions      SessionRevoker
	identityIndex IdentityIndex
	activitySink  ActivitySink
	clock         Clock
	logger        Logger
}

// MergeOption customizes engine construction.
type MergeOption func(*MergeEngine)

// WithMergeContributors sets the contributor store.
func WithMergeContributors(s ContributorStore) MergeOption {
	return func(m *MergeEngine) { m.contributors = s }
}

// WithMergeQuickFiles sets the quick-files store.
func WithMergeQuickFiles(s QuickFileStore) MergeOption {
	return func(m *MergeEngine) { m.quickFiles = s }
}

// WithMergeFileLocks sets the file-lock store.
func WithMergeFileLocks(s FileLockStore) MergeOption {
	return func(m *MergeEngine) { m.fileLocks = s }
}

// WithMergeOwnership sets the creatorship/collection transfer store.
func WithMergeOwnership(s OwnershipStore) MergeOption {
	return func(m *MergeEngine) { m.ownership = s }
}

// WithMergeGroups sets the group store.
func WithMergeGroups(s GroupStore) MergeOption {
	return func(m *MergeEngine) { m.groups = s }
}

// WithMergeIntegrations sets the attached-integration store.
func WithMergeIntegrations(s IntegrationStore) MergeOption {
	return func(m *MergeEngine) { m.integrations = normalizeIntegrationStore(s) }
}

// WithMergeSessions sets the session revoker used at finalization.
func WithMergeSessions(s SessionRevoker) MergeOption {
	return func(m *MergeEngine) { m.sessions = normalizeSessionRevoker(s) }
}

// WithMergeIdentityIndex sets the external-identity index kept in sync with
// the merged claim map.
func WithMergeIdentityIndex(idx IdentityIndex) MergeOption {
	return func(m *MergeEngine) { m.identityIndex = idx }
}

// WithMergeActivitySink sets the audit sink.
func WithMergeActivitySink(sink ActivitySink) MergeOption {
	return func(m *MergeEngine) { m.activitySink = normalizeActivitySink(sink) }
}

// WithMergeClock injects a custom clock.
func WithMergeClock(clock Clock) MergeOption {
	return func(m *MergeEngine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithMergeLogger overrides the logger.
func WithMergeLogger(logger Logger) MergeOption {
	return func(m *MergeEngine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMergeEngine builds the engine. Stores left unset fall back to inert
// implementations so partial deployments can still merge account-local state.
func NewMergeEngine(repo RepositoryManager, opts ...MergeOption) *MergeEngine {
	m := &MergeEngine{
		repo:         repo,
		integrations: noopIntegrationStore{},
		sessions:     noopSessionRevoker{},
		activitySink: noopActivitySink{},
		clock:        time.Now,
		logger:       defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

var _ Merger = (*MergeEngine)(nil)

// Merge consolidates source into target. Re-running a completed merge is a
// no-op. Returns the domain events produced; the caller dispatches them.
func (m *MergeEngine) Merge(ctx context.Context, tx bun.IDB, source, target *Account) ([]Event, error) {
	if source == nil || target == nil {
		return nil, ErrMergeConflict.WithMetadata(map[string]any{
			"reason": "nil account",
		})
	}

	if source.ID == target.ID {
		return nil, ErrMergeConflict.WithMetadata(map[string]any{
			"reason": "cannot merge an account into itself",
		})
	}

	if source.IsMerged() {
		if *source.MergedInto == target.ID {
			// already fully merged into this target
			return nil, nil
		}
		return nil, ErrMergeConflict.WithMetadata(map[string]any{
			"reason":      "source already merged into a different account",
			"merged_into": source.MergedInto.String(),
		})
	}

	source.EnsureMaps()
	target.EnsureMaps()

	attached, err := m.integrations.ForAccount(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	for _, integration := range attached {
		if !integration.CanBeMerged() {
			return nil, ErrMergeConflict.WithMetadata(map[string]any{
				"provider": integration.Provider(),
			})
		}
	}

	m.mergeAccountLocalState(source, target)

	if _, err := m.repo.Emails().TransferAllTx(ctx, tx, source.ID, target.ID); err != nil {
		return nil, err
	}

	m.mergePendingVerifications(source, target)
	if err := m.mergeIdentities(ctx, source, target); err != nil {
		return nil, err
	}

	// integration settings merge runs before contributorship transfer:
	// removing a contributor can trigger credential revocation hooks that
	// would destroy data still being merged
	for _, integration := range attached {
		if err := integration.MergeSettings(ctx, source, target); err != nil {
			return nil, err
		}
	}

	for _, kind := range []ResourceKind{ResourceKindNode, ResourceKindPreprint} {
		if err := m.transferContributorship(ctx, tx, source, target, kind); err != nil {
			return nil, err
		}
	}

	if m.ownership != nil {
		if err := m.ownership.TransferCreatorTx(ctx, tx, source.ID, target.ID); err != nil {
			return nil, err
		}
	}

	if m.fileLocks != nil {
		if _, err := m.fileLocks.ReassignLocksTx(ctx, tx, source.ID, target.ID); err != nil {
			return nil, err
		}
	}

	if err := m.consolidateQuickFiles(ctx, tx, source, target); err != nil {
		return nil, err
	}

	if err := m.transferGroups(ctx, tx, source, target); err != nil {
		return nil, err
	}

	if err := m.finalize(ctx, tx, source, target); err != nil {
		return nil, err
	}

	events := []Event{
		NewEvent(EventAccountMerged, target.ID, map[string]any{
			"source_id": source.ID.String(),
		}),
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventMerge,
		AccountID: target.ID.String(),
		Metadata: map[string]any{
			"source_id": source.ID.String(),
		},
	})

	return events, nil
}

// mergeAccountLocalState applies the pure map/flag consolidation rules:
// unions with target winning conflicts, first-writer-wins profile fields,
// subscribed-wins mailing lists, and max comment-view timestamps.
func (m *MergeEngine) mergeAccountLocalState(source, target *Account) {
	target.SystemTags = unionStrings(target.SystemTags, source.SystemTags)

	target.IsInvited = target.IsInvited || source.IsInvited
	target.IsSuperuser = target.IsSuperuser || source.IsSuperuser
	target.IsStaff = target.IsStaff || source.IsStaff

	if len(target.Jobs) == 0 {
		target.Jobs = source.Jobs
	}
	if len(target.Schools) == 0 {
		target.Schools = source.Schools
	}
	if len(target.Social) == 0 {
		target.Social = source.Social
	}

	for key, record := range source.UnclaimedRecords {
		if _, ok := target.UnclaimedRecords[key]; !ok {
			target.UnclaimedRecords[key] = record
		}
	}
	// unclaimed records belong to exactly one account
	source.UnclaimedRecords = map[string]*UnclaimedRecord{}

	for key, at := range source.SecurityMessages {
		if _, ok := target.SecurityMessages[key]; !ok {
			target.SecurityMessages[key] = at
		}
	}

	for key, configured := range source.Notifications {
		if _, ok := target.Notifications[key]; !ok {
			target.Notifications[key] = configured
		}
	}

	for list, subscribed := range source.MailingLists {
		target.MailingLists[list] = target.MailingLists[list] || subscribed
	}
	source.MailingLists = map[string]bool{}

	for key, at := range source.CommentsViewed {
		if existing, ok := target.CommentsViewed[key]; !ok || at.After(existing) {
			target.CommentsViewed[key] = at
		}
	}

	target.Affiliations = unionStrings(target.Affiliations, source.Affiliations)
	target.ExternalAccounts = unionStrings(target.ExternalAccounts, source.ExternalAccounts)
}

// mergePendingVerifications folds source's live token map into target's,
// skipping tokens for source's own stale primary address and any token whose
// key collides with an existing target entry.
func (m *MergeEngine) mergePendingVerifications(source, target *Account) {
	stale := NormalizeEmail(source.Username)

	for token, entry := range source.EmailVerifications {
		if entry == nil {
			continue
		}
		if NormalizeEmail(entry.Email) == stale {
			continue
		}
		if _, ok := target.EmailVerifications[token]; ok {
			continue
		}
		target.EmailVerifications[token] = entry
	}
}

func (m *MergeEngine) mergeIdentities(ctx context.Context, source, target *Account) error {
	target.ExternalIdentities = MergeIdentityMaps(target.ExternalIdentities, source.ExternalIdentities)

	if m.identityIndex == nil {
		return nil
	}

	if err := m.identityIndex.ClearForAccount(ctx, source.ID); err != nil {
		return err
	}
	for provider, claims := range target.ExternalIdentities {
		for id, status := range claims {
			if err := m.identityIndex.Record(ctx, target.ID, provider, id, status); err != nil {
				return err
			}
		}
	}
	source.ExternalIdentities = map[string]map[string]string{}

	return nil
}

// transferContributorship applies the contributor reconciliation rule for a
// single permission scope: on shared resources target keeps one row with
// max(permission) and OR'd visibility; elsewhere the row is re-pointed.
func (m *MergeEngine) transferContributorship(ctx context.Context, tx bun.IDB, source, target *Account, kind ResourceKind) error {
	if m.contributors == nil {
		return nil
	}

	rows, err := m.contributors.ForAccountTx(ctx, tx, source.ID, kind)
	if err != nil {
		return err
	}

	for _, row := range rows {
		existing, found, err := m.contributors.FindTx(ctx, tx, row.ResourceID, kind, target.ID)
		if err != nil {
			return err
		}

		if found {
			existing.Permission = maxPermission(existing.Permission, row.Permission)
			existing.Visible = existing.Visible || row.Visible
			if err := m.contributors.UpdateTx(ctx, tx, existing); err != nil {
				return err
			}
			if err := m.contributors.DeleteTx(ctx, tx, row.ResourceID, kind, source.ID); err != nil {
				return err
			}
			continue
		}

		if err := m.contributors.RepointTx(ctx, tx, row, target.ID); err != nil {
			return err
		}
	}

	return nil
}

// transferGroups promotes target to source's role where needed, then
// removes source from every group it managed or belonged to.
func (m *MergeEngine) transferGroups(ctx context.Context, tx bun.IDB, source, target *Account) error {
	if m.groups == nil {
		return nil
	}

	memberships, err := m.groups.ForAccountTx(ctx, tx, source.ID)
	if err != nil {
		return err
	}

	for _, membership := range memberships {
		role, found, err := m.groups.RoleOfTx(ctx, tx, membership.GroupID, target.ID)
		if err != nil {
			return err
		}

		if !found || (role != GroupRoleManager && membership.Role == GroupRoleManager) {
			if err := m.groups.SetRoleTx(ctx, tx, membership.GroupID, target.ID, membership.Role); err != nil {
				return err
			}
		}

		if err := m.groups.RemoveTx(ctx, tx, membership.GroupID, source.ID); err != nil {
			return err
		}
	}

	return nil
}

// finalize scrubs the source into its terminal merged state and persists
// target, then source.
func (m *MergeEngine) finalize(ctx context.Context, tx bun.IDB, source, target *Account) error {
	if err := m.sessions.RevokeAll(ctx, source.ID); err != nil {
		return err
	}

	if source.ID != uuid.Nil {
		source.Username = source.ID.String()
	} else {
		source.Username = uuid.NewString()
	}

	source.PasswordHash = ""
	source.VerificationKey = ""
	source.ActionToken = ActionToken{}
	source.EmailVerifications = map[string]*EmailVerification{}
	source.MailingLists = map[string]bool{}

	mergedInto := target.ID
	source.MergedInto = &mergedInto

	if _, err := m.repo.Accounts().UpdateTx(ctx, tx, target); err != nil {
		return err
	}
	if _, err := m.repo.Accounts().UpdateTx(ctx, tx, source); err != nil {
		return err
	}

	return nil
}

func (m *MergeEngine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.clock.Now()
	}
	if err := m.activitySink.Record(ctx, event); err != nil {
		m.logger.Warn("merge activity sink error: %v", err)
	}
}

func unionStrings(target, source []string) []string {
	seen := make(map[string]struct{}, len(target))
	for _, s := range target {
		seen[s] = struct{}{}
	}
	for _, s := range source {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		target = append(target, s)
	}
	return target
}
