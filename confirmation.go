package authkit

import (
	"context"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
)

// ConfirmationWorkflow drives the email change and confirmation cycle.
// A change request parks the new address in ConfirmationEmail and issues
// a single use token; confirming promotes the pending address onto the
// record and retires the token. The login identifier never moves until
// the holder of the mailbox proves control of it.
type ConfirmationWorkflow struct {
	repo     RepositoryManager
	tokens   *TokenStore
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

func NewConfirmationWorkflow(repo RepositoryManager, cfg Config) *ConfirmationWorkflow {
	return &ConfirmationWorkflow{
		repo:     repo,
		tokens:   NewTokenStore(repo.Users(), cfg),
		mailer:   noopMailer{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

func (w *ConfirmationWorkflow) WithMailer(mailer Mailer) *ConfirmationWorkflow {
	w.mailer = normalizeMailer(mailer)
	return w
}

func (w *ConfirmationWorkflow) WithActivitySink(sink ActivitySink) *ConfirmationWorkflow {
	w.activity = normalizeActivitySink(sink)
	return w
}

func (w *ConfirmationWorkflow) WithLogger(logger Logger) *ConfirmationWorkflow {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// WithClock injects a custom clock (useful for tests).
func (w *ConfirmationWorkflow) WithClock(clock func() time.Time) *ConfirmationWorkflow {
	if clock != nil {
		w.now = clock
	}
	w.tokens.WithClock(clock)
	return w
}

// RequestEmailChange parks newEmail as the pending address and arms a
// fresh confirmation token. Requesting the already confirmed address is
// a no-op; requesting the same pending address while its token is still
// live resends the outstanding token instead of rotating it.
func (w *ConfirmationWorkflow) RequestEmailChange(ctx context.Context, user *User, newEmail string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(newEmail))
	if !isEmail(addr) {
		return "", NewValidationError("invalid email address", map[string]any{
			"confirmation_email": "must be a valid email address",
		})
	}

	if addr == user.Email && user.Confirmed() {
		return "", nil
	}

	if addr == user.ConfirmationEmail && !w.tokens.Expired(user, TokenPurposeConfirmation) {
		w.deliverConfirmation(ctx, user, user.ConfirmationToken)
		return user.ConfirmationToken, nil
	}

	// A user can change their email, never confirm, and then sign up
	// again with the same address. Catching that here keeps the error
	// close to the form; the unique index still backstops the race.
	if addr != user.Email {
		if _, err := w.repo.Users().FindByEmail(ctx, addr); err == nil {
			return "", NewValidationError("email already in use", map[string]any{
				"confirmation_email": "is already taken",
			})
		} else if !repository.IsRecordNotFound(err) {
			return "", err
		}
	}

	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	now := w.now()
	user.ConfirmationEmail = addr
	user.setToken(TokenPurposeConfirmation, token, &now)

	if err := w.repo.Users().SaveEmailChange(ctx, user); err != nil {
		return "", err
	}

	w.deliverConfirmation(ctx, user, token)
	w.record(ctx, ActivityEventEmailChangeRequested, user, map[string]any{
		"pending_email": addr,
	})

	return token, nil
}

// ArmConfirmation issues a token for the current pending address
// unconditionally. Signup uses it for the initial address, which equals
// the login email and would otherwise read as already confirmed.
func (w *ConfirmationWorkflow) ArmConfirmation(ctx context.Context, user *User) (string, error) {
	user.EnsureConfirmationEmail()

	token, err := w.tokens.Issue(ctx, user, TokenPurposeConfirmation)
	if err != nil {
		return "", err
	}

	w.deliverConfirmation(ctx, user, token)
	return token, nil
}

// Confirm promotes the pending address after proving possession of the
// token. An absent, mismatched or expired token denies with the generic
// token message and changes nothing. When the pending address collided
// with another account in the meantime, the conflict surfaces and the
// token survives so the user can retry after resolving it.
func (w *ConfirmationWorkflow) Confirm(ctx context.Context, user *User, token string) error {
	if user.ConfirmationEmail == "" || !w.tokens.Valid(user, TokenPurposeConfirmation, token) {
		return ErrInvalidToken
	}

	prevEmail := user.Email
	prevToken, prevIssuedAt := user.token(TokenPurposeConfirmation)

	user.Email = user.ConfirmationEmail
	user.setToken(TokenPurposeConfirmation, "", nil)

	if err := w.repo.Users().SaveEmailChange(ctx, user); err != nil {
		user.Email = prevEmail
		user.setToken(TokenPurposeConfirmation, prevToken, prevIssuedAt)
		return err
	}

	w.record(ctx, ActivityEventEmailConfirmed, user, map[string]any{
		"email": user.Email,
	})

	return nil
}

func (w *ConfirmationWorkflow) deliverConfirmation(ctx context.Context, user *User, token string) {
	if err := w.mailer.SendConfirmation(ctx, user, token); err != nil {
		w.logger.Error("confirmation mail delivery failed: %v", err)
	}
}

func (w *ConfirmationWorkflow) record(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
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
