package accounts

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the domain events emitted by lifecycle operations.
type EventType string

const (
	EventAccountCreated     EventType = "account.created"
	EventAccountRegistered  EventType = "account.registered"
	EventEmailConfirmed     EventType = "account.email.confirmed"
	EventAccountDisabled    EventType = "account.disabled"
	EventAccountReactivated EventType = "account.reactivated"
	EventAccountErased      EventType = "account.gdpr.erased"
	EventAccountMerged      EventType = "account.merged"
	EventIdentityLinked     EventType = "account.identity.linked"
	EventPasswordReset      EventType = "account.password.reset"
)

// Event is an explicit domain event returned to the caller, who consumes it
// synchronously or pushes it onto a queue. Operations return events instead
// of dispatching through global signals.
type Event struct {
	Type       EventType
	AccountID  uuid.UUID
	Metadata   map[string]any
	OccurredAt time.Time
}

// NewEvent builds an event stamped with wall-clock time.
func NewEvent(kind EventType, accountID uuid.UUID, metadata map[string]any) Event {
	return Event{
		Type:       kind,
		AccountID:  accountID,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
}
