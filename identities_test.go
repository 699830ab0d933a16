package accounts_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkerClaim(t *testing.T) {
	t.Parallel()

	index := newFakeIdentityIndex()
	linker := accounts.NewExternalIdentityLinker(index)

	account := &accounts.Account{ID: uuid.New()}

	err := linker.Claim(context.Background(), account, "orcid", "0000-0001", "")
	require.Error(t, err)
	assert.Equal(t, accounts.TextCodeInvalidIdentityTransition, textCodeOf(t, err))

	require.NoError(t, linker.Claim(context.Background(), account, "orcid", "0000-0001", accounts.IdentityStatusLink))
	assert.Equal(t, accounts.IdentityStatusLink, account.ExternalIdentities["orcid"]["0000-0001"])
}

func TestLinkerClaimVerifiedElsewhere(t *testing.T) {
	t.Parallel()

	index := newFakeIdentityIndex()
	linker := accounts.NewExternalIdentityLinker(index)

	holder := uuid.New()
	require.NoError(t, index.Record(context.Background(), holder, "orcid", "0000-0001", accounts.IdentityStatusVerified))

	account := &accounts.Account{ID: uuid.New()}
	err := linker.Claim(context.Background(), account, "orcid", "0000-0001", accounts.IdentityStatusLink)
	require.Error(t, err)
	assert.True(t, accounts.IsIdentityVerifiedElsewhere(err))

	// the verified holder itself can re-claim
	self := &accounts.Account{ID: holder}
	assert.NoError(t, linker.Claim(context.Background(), self, "orcid", "0000-0001", accounts.IdentityStatusVerified))
}

func TestLinkerPromoteIsMonotonic(t *testing.T) {
	t.Parallel()

	index := newFakeIdentityIndex()
	linker := accounts.NewExternalIdentityLinker(index)

	account := &accounts.Account{ID: uuid.New()}
	require.NoError(t, linker.Claim(context.Background(), account, "orcid", "0000-0001", accounts.IdentityStatusCreate))

	// no claim for this tuple yet
	err := linker.Promote(context.Background(), account, "orcid", "0000-0002", accounts.IdentityStatusLink)
	require.Error(t, err)
	assert.Equal(t, accounts.TextCodeInvalidIdentityTransition, textCodeOf(t, err))

	require.NoError(t, linker.Promote(context.Background(), account, "orcid", "0000-0001", accounts.IdentityStatusLink))

	// same-rank and downgrade moves are rejected
	err = linker.Promote(context.Background(), account, "orcid", "0000-0001", accounts.IdentityStatusLink)
	assert.Equal(t, accounts.TextCodeInvalidIdentityTransition, textCodeOf(t, err))
	err = linker.Promote(context.Background(), account, "orcid", "0000-0001", accounts.IdentityStatusCreate)
	assert.Equal(t, accounts.TextCodeInvalidIdentityTransition, textCodeOf(t, err))

	require.NoError(t, linker.Promote(context.Background(), account, "orcid", "0000-0001", accounts.IdentityStatusVerified))

	found, err := index.FindVerified(context.Background(), "orcid", "0000-0001")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found)
}

func TestLinkerPromoteToVerifiedChecksOtherHolders(t *testing.T) {
	t.Parallel()

	index := newFakeIdentityIndex()
	linker := accounts.NewExternalIdentityLinker(index)

	other := uuid.New()
	require.NoError(t, index.Record(context.Background(), other, "orcid", "0000-0001", accounts.IdentityStatusVerified))

	account := &accounts.Account{ID: uuid.New()}
	account.EnsureMaps()
	account.ExternalIdentities["orcid"] = map[string]string{"0000-0001": accounts.IdentityStatusLink}

	err := linker.Promote(context.Background(), account, "orcid", "0000-0001", accounts.IdentityStatusVerified)
	require.Error(t, err)
	assert.True(t, accounts.IsIdentityVerifiedElsewhere(err))
}

func TestMergeIdentityMaps(t *testing.T) {
	t.Parallel()

	target := map[string]map[string]string{
		"orcid": {
			"0000-0001": accounts.IdentityStatusVerified,
			"0000-0002": accounts.IdentityStatusCreate,
		},
	}
	source := map[string]map[string]string{
		"orcid": {
			"0000-0001": accounts.IdentityStatusLink,     // lower rank, kept as target's
			"0000-0002": accounts.IdentityStatusVerified, // higher rank wins
		},
		"github": {
			"octocat": accounts.IdentityStatusLink,
		},
	}

	merged := accounts.MergeIdentityMaps(target, source)

	assert.Equal(t, accounts.IdentityStatusVerified, merged["orcid"]["0000-0001"])
	assert.Equal(t, accounts.IdentityStatusVerified, merged["orcid"]["0000-0002"])
	assert.Equal(t, accounts.IdentityStatusLink, merged["github"]["octocat"])

	merged = accounts.MergeIdentityMaps(nil, source)
	assert.Equal(t, accounts.IdentityStatusLink, merged["github"]["octocat"])
}
