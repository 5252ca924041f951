package authkit

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignup                 ActivityEventType = "auth.signup"
	ActivityEventLoginSuccess           ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure           ActivityEventType = "auth.login.failure"
	ActivityEventLogout                 ActivityEventType = "auth.logout"
	ActivityEventPasswordResetRequested ActivityEventType = "auth.password.reset.requested"
	ActivityEventPasswordResetSuccess   ActivityEventType = "auth.password.reset"
	ActivityEventPasswordChanged        ActivityEventType = "auth.password.changed"
	ActivityEventEmailChangeRequested   ActivityEventType = "auth.email.change.requested"
	ActivityEventEmailConfirmed         ActivityEventType = "auth.email.confirmed"
	ActivityEventSessionsRevoked        ActivityEventType = "auth.sessions.revoked"
	ActivityEventSudoEnabled            ActivityEventType = "auth.sudo.enabled"
)

// ActorRef identifies the entity performing the action.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
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
