package accounts

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported audit categories.
type ActivityEventType string

const (
	ActivityEventStatusChanged ActivityEventType = "account.status.changed"
	ActivityEventLoginSuccess  ActivityEventType = "gateway.login.success"
	ActivityEventLoginFailure  ActivityEventType = "gateway.login.failure"
	ActivityEventRegistration  ActivityEventType = "gateway.register"
	ActivityEventInstitution   ActivityEventType = "gateway.institution.authenticate"
	ActivityEventMerge         ActivityEventType = "account.merge"
	ActivityEventErasure       ActivityEventType = "account.gdpr.erasure"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	AccountID  string
	FromStatus AccountStatus
	ToStatus   AccountStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
