package authkit

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
)

// Authenticator is the credential login entry point. It pairs identifier
// resolution with the password check and hands established identities to
// the resolver. Every failure, unknown identifier, wrong password or
// passwordless account, is the same generic denial.
type Authenticator struct {
	repo     RepositoryManager
	resolver *Resolver
	cfg      Config
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

func NewAuthenticator(repo RepositoryManager, resolver *Resolver, cfg Config) *Authenticator {
	return &Authenticator{
		repo:     repo,
		resolver: resolver,
		cfg:      cfg.WithDefaults(),
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

func (a *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	a.activity = normalizeActivitySink(sink)
	return a
}

func (a *Authenticator) WithLogger(logger Logger) *Authenticator {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Login authenticates identifier+password and, on success, establishes
// the session state on the request. Suspension does not block the login
// itself, the gates deny suspended principals afterwards.
func (a *Authenticator) Login(ctx context.Context, rc RequestContext, identifier, password string, remember bool) (*User, error) {
	user, err := a.repo.Users().FindByLogin(ctx, identifier, a.cfg.UsernameEnabled)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			a.recordFailure(ctx, identifier, rc.ClientIP())
			return nil, ErrAuthenticationDenied
		}
		return nil, err
	}

	if !Authenticate(user, password) {
		a.recordFailure(ctx, identifier, rc.ClientIP())
		return nil, ErrAuthenticationDenied
	}

	if _, err := a.resolver.Login(ctx, rc, user, remember); err != nil {
		return nil, err
	}

	return user, nil
}

func (a *Authenticator) recordFailure(ctx context.Context, identifier, ip string) {
	event := ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Metadata: map[string]any{
			"identifier": identifier,
			"ip":         ip,
		},
		OccurredAt: a.now(),
	}
	if err := a.activity.Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error: %v", err)
	}
}
