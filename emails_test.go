package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// fakeMerger records merge calls without touching any state.
type fakeMerger struct {
	calls [][2]uuid.UUID
	err   error
}

func (m *fakeMerger) Merge(ctx context.Context, tx bun.IDB, source, target *accounts.Account) ([]accounts.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.calls = append(m.calls, [2]uuid.UUID{source.ID, target.ID})
	return []accounts.Event{accounts.NewEvent(accounts.EventAccountMerged, target.ID, nil)}, nil
}

func newRegistry(t *testing.T, opts ...accounts.RegistryOption) (*accounts.EmailRegistry, *fakeRepoManager, *accounts.TokenVault) {
	t.Helper()

	repo := newFakeRepoManager()
	vault := accounts.NewTokenVault()
	return accounts.NewEmailRegistry(repo, vault, opts...), repo, vault
}

func TestAddUnconfirmedIssuesToken(t *testing.T) {
	t.Parallel()

	registry, _, vault := newRegistry(t)
	account := &accounts.Account{ID: uuid.New(), Username: "person@example.com"}
	account.EnsureMaps()

	token, err := registry.AddUnconfirmed(context.Background(), account, "Extra@Example.COM", nil)
	require.NoError(t, err)

	email, err := vault.Validate(account, token)
	require.NoError(t, err)
	assert.Equal(t, "extra@example.com", email)
}

func TestAddUnconfirmedRejectsOwnConfirmedAddress(t *testing.T) {
	t.Parallel()

	registry, repo, _ := newRegistry(t)
	account := &accounts.Account{ID: uuid.New(), Username: "person@example.com"}
	account.EnsureMaps()

	_, err := repo.emails.GetOrCreateTx(context.Background(), nil, &accounts.ConfirmedEmail{
		AccountID: account.ID,
		Address:   "person@example.com",
	})
	require.NoError(t, err)

	_, err = registry.AddUnconfirmed(context.Background(), account, "person@example.com", nil)
	require.Error(t, err)
	assert.Equal(t, accounts.TextCodeAlreadyConfirmed, textCodeOf(t, err))

	// external-identity context allows re-verification
	_, err = registry.AddUnconfirmed(context.Background(), account, "person@example.com", map[string]string{
		"provider": "orcid",
		"id":       "0000-0001",
	})
	assert.NoError(t, err)
}

func TestThrottleResend(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := now
	registry, _, _ := newRegistry(t, accounts.WithRegistryClock(func() time.Time { return current }))

	account := &accounts.Account{ID: uuid.New()}

	require.NoError(t, registry.ThrottleResend(account))
	require.NotNil(t, account.EmailLastSentAt)

	err := registry.ThrottleResend(account)
	require.Error(t, err)
	assert.Equal(t, accounts.TextCodeEmailThrottled, textCodeOf(t, err))

	current = now.Add(accounts.DefaultResendInterval + time.Second)
	assert.NoError(t, registry.ThrottleResend(account))
	assert.Equal(t, current, *account.EmailLastSentAt)
}

func TestConfirmInvalidAndExpiredTokens(t *testing.T) {
	t.Parallel()

	registry, _, _ := newRegistry(t)
	account := &accounts.Account{ID: uuid.New(), Username: "person@example.com"}
	account.EnsureMaps()

	_, err := registry.Confirm(context.Background(), nil, account, "bogus")
	assert.True(t, accounts.IsInvalidToken(err))

	stale := time.Now().Add(-time.Hour)
	account.EmailVerifications["expired"] = &accounts.EmailVerification{
		Email:      "person@example.com",
		Expiration: &stale,
	}
	_, err = registry.Confirm(context.Background(), nil, account, "expired")
	assert.True(t, accounts.IsExpiredToken(err))
}

func TestConfirmPrimaryAddressCompletesRegistration(t *testing.T) {
	t.Parallel()

	registry, repo, _ := newRegistry(t)
	account := repo.accounts.add(&accounts.Account{Username: "person@example.com", PasswordHash: "hash"})

	token, err := registry.AddUnconfirmed(context.Background(), account, "person@example.com", nil)
	require.NoError(t, err)

	result, err := registry.Confirm(context.Background(), nil, account, token)
	require.NoError(t, err)

	assert.True(t, result.FullyRegistered)
	assert.True(t, account.IsRegistered)
	require.NotNil(t, account.DateConfirmed)
	assert.Nil(t, result.MergedShadow)
	require.Len(t, result.Events, 1)
	assert.Equal(t, accounts.EventEmailConfirmed, result.Events[0].Type)

	// token is single-use
	_, err = registry.Confirm(context.Background(), nil, account, token)
	assert.True(t, accounts.IsInvalidToken(err))
}

func TestConfirmSecondaryAddressDoesNotRegister(t *testing.T) {
	t.Parallel()

	registry, repo, _ := newRegistry(t)
	now := time.Now()
	account := repo.accounts.add(&accounts.Account{
		Username:      "person@example.com",
		IsRegistered:  true,
		DateConfirmed: &now,
	})

	token, err := registry.AddUnconfirmed(context.Background(), account, "extra@example.com", nil)
	require.NoError(t, err)

	result, err := registry.Confirm(context.Background(), nil, account, token)
	require.NoError(t, err)
	assert.False(t, result.FullyRegistered)
	assert.Equal(t, "extra@example.com", result.Email)

	rows, err := repo.emails.ForAccount(context.Background(), account.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "extra@example.com", rows[0].Address)
}

func TestConfirmCollisionRequiresOptIn(t *testing.T) {
	t.Parallel()

	merger := &fakeMerger{}
	registry, repo, _ := newRegistry(t, accounts.WithRegistryMerger(merger))

	holder := repo.accounts.add(&accounts.Account{Username: "holder@example.com"})
	_, err := repo.emails.GetOrCreateTx(context.Background(), nil, &accounts.ConfirmedEmail{
		AccountID: holder.ID,
		Address:   "shared@example.com",
	})
	require.NoError(t, err)

	account := repo.accounts.add(&accounts.Account{Username: "person@example.com"})
	token, err := registry.AddUnconfirmed(context.Background(), account, "shared@example.com", nil)
	require.NoError(t, err)

	_, err = registry.Confirm(context.Background(), nil, account, token)
	require.Error(t, err)
	assert.True(t, accounts.IsMergeConfirmationRequired(err))
	assert.Empty(t, merger.calls, "no merge without an explicit opt-in")

	result, err := registry.Confirm(context.Background(), nil, account, token, accounts.WithMergeOptIn())
	require.NoError(t, err)
	require.NotNil(t, result.MergedCollision)
	assert.Equal(t, holder.ID, result.MergedCollision.ID)
	require.Len(t, merger.calls, 1)
	assert.Equal(t, [2]uuid.UUID{holder.ID, account.ID}, merger.calls[0])
}

func TestConfirmClaimsShadowAccountAutomatically(t *testing.T) {
	t.Parallel()

	merger := &fakeMerger{}
	registry, repo, _ := newRegistry(t, accounts.WithRegistryMerger(merger))

	// placeholder created by inviting an unregistered contributor
	shadow := repo.accounts.add(&accounts.Account{Username: "invited@example.com"})

	account := repo.accounts.add(&accounts.Account{Username: "person@example.com"})
	token, err := registry.AddUnconfirmed(context.Background(), account, "invited@example.com", nil)
	require.NoError(t, err)

	result, err := registry.Confirm(context.Background(), nil, account, token)
	require.NoError(t, err)

	require.NotNil(t, result.MergedShadow)
	assert.Equal(t, shadow.ID, result.MergedShadow.ID)
	require.Len(t, merger.calls, 1)
	assert.Equal(t, [2]uuid.UUID{shadow.ID, account.ID}, merger.calls[0], "shadow folds into the claiming account")
}

func TestConfirmRegisteredAccountIsNotAShadow(t *testing.T) {
	t.Parallel()

	merger := &fakeMerger{}
	registry, repo, _ := newRegistry(t, accounts.WithRegistryMerger(merger))

	// a registered account with that username is a collision candidate at
	// most, never an auto-claimed shadow; with no confirmed row for the
	// address the confirmation simply proceeds
	repo.accounts.add(&accounts.Account{Username: "other@example.com", IsRegistered: true})

	account := repo.accounts.add(&accounts.Account{Username: "person@example.com"})
	token, err := registry.AddUnconfirmed(context.Background(), account, "other@example.com", nil)
	require.NoError(t, err)

	result, err := registry.Confirm(context.Background(), nil, account, token)
	require.NoError(t, err)
	assert.Nil(t, result.MergedShadow)
	assert.Empty(t, merger.calls)
}

func TestRemoveConfirmedEmail(t *testing.T) {
	t.Parallel()

	registry, repo, _ := newRegistry(t)
	account := repo.accounts.add(&accounts.Account{Username: "person@example.com"})

	for _, address := range []string{"person@example.com", "extra@example.com"} {
		_, err := repo.emails.GetOrCreateTx(context.Background(), nil, &accounts.ConfirmedEmail{
			AccountID: account.ID,
			Address:   address,
		})
		require.NoError(t, err)
	}

	err := registry.Remove(context.Background(), nil, account, "person@example.com")
	require.Error(t, err)
	assert.True(t, accounts.IsUserStateError(err), "primary address is not removable")

	err = registry.Remove(context.Background(), nil, account, "unknown@example.com")
	require.Error(t, err)
	assert.Equal(t, accounts.TextCodeEmailNotFound, textCodeOf(t, err))

	require.NoError(t, registry.Remove(context.Background(), nil, account, "Extra@Example.com"))

	rows, err := repo.emails.ForAccount(context.Background(), account.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "person@example.com", rows[0].Address)
}
