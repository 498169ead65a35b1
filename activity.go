package access

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistered         ActivityEventType = "principal.registered"
	ActivityEventStatusChanged      ActivityEventType = "principal.status.changed"
	ActivityEventVerificationIssued ActivityEventType = "principal.verification.issued"
	ActivityEventPasswordChanged    ActivityEventType = "principal.password.changed"
	ActivityEventDeleted            ActivityEventType = "principal.deleted"
	ActivityEventEvicted            ActivityEventType = "principal.evicted"
	ActivityEventLoginSuccess       ActivityEventType = "access.login.success"
	ActivityEventLoginFailure       ActivityEventType = "access.login.failure"
	ActivityEventLogout             ActivityEventType = "access.logout"
	ActivityEventPolicyUpdated      ActivityEventType = "resource.policy.updated"
	ActivityEventResourceAdded      ActivityEventType = "resource.added"
	ActivityEventResourceToggled    ActivityEventType = "resource.toggled"
	ActivityEventResourceRemoved    ActivityEventType = "resource.removed"
	ActivityEventCleanupCompleted   ActivityEventType = "cleanup.completed"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

// SystemActor is used for scheduled and start-up work.
var SystemActor = ActorRef{ID: "system", Type: "system"}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType   ActivityEventType
	Actor       ActorRef
	PrincipalID string
	FromStatus  PrincipalStatus
	ToStatus    PrincipalStatus
	Metadata    map[string]any
	OccurredAt  time.Time
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
