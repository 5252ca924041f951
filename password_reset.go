package authkit

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
)

// PasswordResetWorkflow drives the forgot password cycle. Requesting a
// reset behaves identically for known and unknown identifiers so the
// endpoint cannot be used to enumerate accounts; only the holder of a
// known address receives a token. Completing a reset proves possession
// of the token and replaces the digest.
type PasswordResetWorkflow struct {
	repo     RepositoryManager
	tokens   *TokenStore
	cfg      Config
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

func NewPasswordResetWorkflow(repo RepositoryManager, cfg Config) *PasswordResetWorkflow {
	cfg = cfg.WithDefaults()
	return &PasswordResetWorkflow{
		repo:     repo,
		tokens:   NewTokenStore(repo.Users(), cfg),
		cfg:      cfg,
		mailer:   noopMailer{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

func (w *PasswordResetWorkflow) WithMailer(mailer Mailer) *PasswordResetWorkflow {
	w.mailer = normalizeMailer(mailer)
	return w
}

func (w *PasswordResetWorkflow) WithActivitySink(sink ActivitySink) *PasswordResetWorkflow {
	w.activity = normalizeActivitySink(sink)
	return w
}

func (w *PasswordResetWorkflow) WithLogger(logger Logger) *PasswordResetWorkflow {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// WithClock injects a custom clock (useful for tests).
func (w *PasswordResetWorkflow) WithClock(clock func() time.Time) *PasswordResetWorkflow {
	if clock != nil {
		w.now = clock
	}
	w.tokens.WithClock(clock)
	return w
}

// RequestReset arms a reset token for the account matching identifier
// and notifies it. Unknown identifiers return the same nil outcome as
// known ones. A hit also signs out every live session for the account
// since a reset request is a signal the credentials may be contested.
func (w *PasswordResetWorkflow) RequestReset(ctx context.Context, identifier string) error {
	user, err := w.repo.Users().FindByLogin(ctx, identifier, w.cfg.UsernameEnabled)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil
		}
		return err
	}

	if err := w.repo.UserSessions().SignOutAllForUser(ctx, user.ID); err != nil {
		return err
	}

	token, err := w.tokens.Issue(ctx, user, TokenPurposeResetPassword)
	if err != nil {
		return err
	}

	if err := w.mailer.SendPasswordReset(ctx, user, token); err != nil {
		w.logger.Error("password reset mail delivery failed: %v", err)
	}

	w.record(ctx, ActivityEventPasswordResetRequested, user, nil)
	return nil
}

// CompleteReset replaces the password for the account holding both the
// email and a live matching token. Every denial, unknown email, wrong
// token or stale token, is the same generic one. A rejected replacement
// password surfaces its validation error and leaves the token live so
// the same link still works on retry.
func (w *PasswordResetWorkflow) CompleteReset(ctx context.Context, email, token, password, confirmation string) (*User, error) {
	user, err := w.repo.Users().FindByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if !w.tokens.Valid(user, TokenPurposeResetPassword, token) {
		return nil, ErrInvalidToken
	}

	if err := w.applyPassword(ctx, user, password, confirmation); err != nil {
		return nil, err
	}

	w.record(ctx, ActivityEventPasswordResetSuccess, user, nil)
	return user, nil
}

// ChangePassword replaces the password for an already authenticated
// user. Any outstanding reset token is retired alongside, a changed
// password invalidates pending reset links.
func (w *PasswordResetWorkflow) ChangePassword(ctx context.Context, user *User, password, confirmation string) error {
	if err := w.applyPassword(ctx, user, password, confirmation); err != nil {
		return err
	}

	w.record(ctx, ActivityEventPasswordChanged, user, nil)
	return nil
}

// applyPassword validates and hashes the replacement, then persists the
// digest and the cleared reset token columns in one statement. On a
// validation failure nothing is written.
func (w *PasswordResetWorkflow) applyPassword(ctx context.Context, user *User, password, confirmation string) error {
	if err := SetPassword(user, password, confirmation); err != nil {
		return err
	}

	user.setToken(TokenPurposeResetPassword, "", nil)
	return w.repo.Users().SavePassword(ctx, user)
}

func (w *PasswordResetWorkflow) record(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:     user.ID.String(),
		Metadata:   metadata,
		OccurredAt: w.now(),
	}
	if err := w.activity.Record(ctx, event); err != nil {
		w.logger.Warn("activity sink record error: %v", err)
	}
}
