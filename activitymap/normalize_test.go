package activitymap_test

import (
	"testing"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	event := accounts.ActivityEvent{
		EventType: accounts.ActivityEventLoginSuccess,
		AccountID: "4f4a8a9a-32b6-4d3b-9f6e-59e7ad0f8f01",
		Metadata:  map[string]any{"identifier": "pepe@example.com"},
	}

	got := activitymap.Normalize(event)

	assert.Equal(t, "4f4a8a9a-32b6-4d3b-9f6e-59e7ad0f8f01", got.ActorID)
	assert.Equal(t, "gateway.login.success", got.Verb)
	assert.Equal(t, "account", got.ObjectType)
	assert.Equal(t, "accounts", got.Channel)
	assert.Equal(t, "pepe@example.com", got.Metadata["identifier"])
	assert.False(t, got.OccurredAt.IsZero())
}

func TestNormalizeStatusTransition(t *testing.T) {
	t.Parallel()

	occurred := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	event := accounts.ActivityEvent{
		EventType:  accounts.ActivityEventStatusChanged,
		AccountID:  "abc",
		FromStatus: accounts.AccountStatusActive,
		ToStatus:   accounts.AccountStatusDisabled,
		OccurredAt: occurred,
	}

	got := activitymap.Normalize(event)

	assert.Equal(t, occurred, got.OccurredAt)
	assert.Equal(t, string(accounts.AccountStatusActive), got.Metadata[activitymap.MetadataKeyFromStatus])
	assert.Equal(t, string(accounts.AccountStatusDisabled), got.Metadata[activitymap.MetadataKeyToStatus])
}

func TestNormalizeFallbacksAndOverrides(t *testing.T) {
	t.Parallel()

	event := accounts.ActivityEvent{EventType: accounts.ActivityEventLoginFailure}

	got := activitymap.Normalize(event,
		activitymap.WithDefaultChannel("audit"),
		activitymap.WithDefaultObjectType("identity"),
		activitymap.WithActorFallback("gateway"),
		activitymap.WithObjectIDResolver(func(e accounts.ActivityEvent) string {
			return "resolved"
		}),
	)

	assert.Equal(t, "gateway", got.ActorID)
	assert.Equal(t, "audit", got.Channel)
	assert.Equal(t, "identity", got.ObjectType)
	assert.Equal(t, "resolved", got.ObjectID)
}
