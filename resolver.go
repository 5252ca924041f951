package authkit

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// resolutionLocalKey memoizes the per request outcome so two reads of
// the current principal never trigger two store lookups.
const resolutionLocalKey = "authkit.resolution"

// Resolution is the per request outcome: the acting principal and,
// when the session record lineage produced it, the login session.
// A zero Resolution means "resolved to none".
type Resolution struct {
	User    *User
	Session *UserSession
}

// None reports a resolved-to-none outcome.
func (r *Resolution) None() bool {
	return r == nil || r.User == nil
}

// resolveStrategy tries one identity source. Returning (nil, nil) means
// "not mine, try the next one"; failures that are not lookups misses
// propagate.
type resolveStrategy func(ctx context.Context, rc RequestContext) (*Resolution, error)

// Resolver resolves the acting principal per request from the session
// container or the signed remember cookie, in that order, first hit
// wins. The resolved value is cached on the request for its lifetime.
type Resolver struct {
	repo       RepositoryManager
	cfg        Config
	strategies []resolveStrategy
	activity   ActivitySink
	logger     Logger
	now        func() time.Time
}

// NewResolver builds a resolver with the default strategy order.
func NewResolver(repo RepositoryManager, cfg Config) *Resolver {
	r := &Resolver{
		repo:     repo,
		cfg:      cfg.WithDefaults(),
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
	r.strategies = []resolveStrategy{
		r.fromSessionContainer,
		r.fromRememberCookie,
	}
	return r
}

func (r *Resolver) WithLogger(logger Logger) *Resolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithActivitySink configures the sink receiving login/logout events.
func (r *Resolver) WithActivitySink(sink ActivitySink) *Resolver {
	r.activity = normalizeActivitySink(sink)
	return r
}

// WithClock injects a custom clock (useful for tests).
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	if clock != nil {
		r.now = clock
	}
	return r
}

// CurrentPrincipal resolves the acting user, or nil when no source
// matches. The result, hit or miss, is memoized on the request.
func (r *Resolver) CurrentPrincipal(ctx context.Context, rc RequestContext) (*User, error) {
	res, err := r.Resolve(ctx, rc)
	if err != nil {
		return nil, err
	}
	return res.User, nil
}

// Resolve walks the strategy list once per request.
func (r *Resolver) Resolve(ctx context.Context, rc RequestContext) (*Resolution, error) {
	if cached, ok := rc.Local(resolutionLocalKey); ok {
		if res, ok := cached.(*Resolution); ok {
			return res, nil
		}
	}

	res := &Resolution{}
	for _, strategy := range r.strategies {
		hit, err := strategy(ctx, rc)
		if err != nil {
			return nil, err
		}
		if hit != nil && !hit.None() {
			res = hit
			break
		}
	}

	if !res.None() {
		r.onResolved(ctx, rc, res)
	}

	rc.SetLocal(resolutionLocalKey, res)
	return res, nil
}

// fromSessionContainer resolves through the session id stored in the
// per client container. A matching but inactive session record resolves
// to none, silently.
func (r *Resolver) fromSessionContainer(ctx context.Context, rc RequestContext) (*Resolution, error) {
	raw := rc.Session().Get(sessionKeyUserSession)
	if raw == "" {
		return nil, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil
	}

	session, err := r.repo.UserSessions().GetActive(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return r.loadOwner(ctx, session)
}

// fromRememberCookie resolves through the signed persistent cookie. The
// cookie value is the session record's remember token; signature
// verification already happened in the RequestContext adapter.
func (r *Resolver) fromRememberCookie(ctx context.Context, rc RequestContext) (*Resolution, error) {
	token := rc.RememberCookie()
	if token == "" {
		return nil, nil
	}

	session, err := r.repo.UserSessions().GetActiveByToken(ctx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return r.loadOwner(ctx, session)
}

func (r *Resolver) loadOwner(ctx context.Context, session *UserSession) (*Resolution, error) {
	user, err := r.repo.Users().GetByID(ctx, session.UserID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &Resolution{User: user, Session: session}, nil
}

// onResolved applies the per request side effects of a hit: access
// tracking on the session record, the session id back into the
// container (the cookie path repopulates it), and the principal's time
// zone into the request's active setting.
func (r *Resolver) onResolved(ctx context.Context, rc RequestContext, res *Resolution) {
	if res.Session != nil {
		if err := r.repo.UserSessions().Access(ctx, res.Session, rc.ClientIP(), rc.UserAgent()); err != nil {
			r.logger.Warn("failed to track session access: %v", err)
		}
		rc.Session().Set(sessionKeyUserSession, res.Session.ID.String())
	}

	if res.User.TimeZone != "" {
		rc.Session().Set(sessionKeyTimeZone, res.User.TimeZone)
	}
}

// RequireLogin gates a request on a resolved, non suspended principal.
// The denial is the generic login message; a resolved but suspended
// principal gets the suspension specific one. The originally requested
// path is remembered for the post login redirect.
func (r *Resolver) RequireLogin(ctx context.Context, rc RequestContext) (*User, error) {
	res, err := r.Resolve(ctx, rc)
	if err != nil {
		return nil, err
	}

	if res.None() {
		rc.Session().Set(sessionKeyReturnURL, rc.OriginalURL())
		return nil, ErrLoginRequired
	}

	if res.User.Suspended() {
		return nil, ErrUserSuspended
	}

	return res.User, nil
}

// RequireCompleteProfile admits logged in principals whose profile is
// still missing required fields only into the completion step.
func (r *Resolver) RequireCompleteProfile(ctx context.Context, rc RequestContext) (*User, error) {
	user, err := r.RequireLogin(ctx, rc)
	if err != nil {
		return nil, err
	}

	if !r.profileComplete(user) {
		return nil, ErrIncompleteProfile
	}

	return user, nil
}

func (r *Resolver) profileComplete(user *User) bool {
	if user.Email == "" {
		return false
	}
	if r.cfg.UsernameEnabled && user.Username == "" {
		return false
	}
	// Externally authenticated users may legitimately have no digest.
	if !user.HasPassword() && !r.cfg.OAuthEnabled {
		return false
	}
	return true
}

// RequireSudo gates a request on a fresh elevation of the current
// session record.
func (r *Resolver) RequireSudo(ctx context.Context, rc RequestContext) (*User, error) {
	res, err := r.Resolve(ctx, rc)
	if err != nil {
		return nil, err
	}

	if res.None() {
		return nil, ErrLoginRequired
	}

	if res.Session == nil || !res.Session.Sudo(r.now()) {
		return nil, ErrSudoRequired
	}

	return res.User, nil
}

// EnableSudo elevates the current session record for the sudo window.
func (r *Resolver) EnableSudo(ctx context.Context, rc RequestContext) error {
	res, err := r.Resolve(ctx, rc)
	if err != nil {
		return err
	}

	if res.None() || res.Session == nil {
		return ErrLoginRequired
	}

	return r.repo.UserSessions().EnableSudo(ctx, res.Session)
}

// Login establishes a fresh authenticated state for the user. The old
// session container is fully reset first, which invalidates any
// pre-existing identifiers (session fixation defense). A persistent
// remember cookie is set only when remember is true. Sign in tracking
// honors the request's do-not-track signal.
func (r *Resolver) Login(ctx context.Context, rc RequestContext, user *User, remember bool) (*UserSession, error) {
	rc.Session().Reset()
	rc.DeleteLocal(resolutionLocalKey)

	session, err := r.repo.UserSessions().Create(ctx, user.ID, rc.ClientIP(), rc.UserAgent())
	if err != nil {
		return nil, err
	}

	rc.Session().Set(sessionKeyUserSession, session.ID.String())
	if user.TimeZone != "" {
		rc.Session().Set(sessionKeyTimeZone, user.TimeZone)
	}

	if remember {
		rc.SetRememberCookie(session.RememberToken, r.cfg.RememberCookieTTL)
	}

	if rc.AllowTracking() {
		if err := r.repo.Users().TrackSignIn(ctx, user, rc.ClientIP()); err != nil {
			r.logger.Warn("failed to track sign in: %v", err)
		}
	}

	rc.SetLocal(resolutionLocalKey, &Resolution{User: user, Session: session})

	r.recordActivity(ctx, ActivityEventLoginSuccess, user.ID, map[string]any{
		"remember": remember,
		"ip":       rc.ClientIP(),
	})

	return session, nil
}

// Logout terminates the current session record, deletes the remember
// cookie and resets the container so no residual identifiers survive.
func (r *Resolver) Logout(ctx context.Context, rc RequestContext) error {
	res, err := r.Resolve(ctx, rc)
	if err != nil {
		return err
	}

	if res.Session != nil {
		if err := r.repo.UserSessions().SignOut(ctx, res.Session); err != nil {
			return err
		}
	}

	rc.DeleteRememberCookie()
	rc.Session().Reset()
	rc.SetLocal(resolutionLocalKey, &Resolution{})

	if !res.None() {
		r.recordActivity(ctx, ActivityEventLogout, res.User.ID, nil)
	}

	return nil
}

// ReturnURL pops the path captured by a denied RequireLogin, falling
// back to the given default.
func (r *Resolver) ReturnURL(rc RequestContext, def string) string {
	url := rc.Session().Get(sessionKeyReturnURL)
	if url == "" {
		return def
	}
	rc.Session().Delete(sessionKeyReturnURL)
	return url
}

// TimeZone reads the propagated time zone preference for the request.
func (r *Resolver) TimeZone(rc RequestContext) string {
	return rc.Session().Get(sessionKeyTimeZone)
}

func (r *Resolver) recordActivity(ctx context.Context, eventType ActivityEventType, userID uuid.UUID, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      ActorRef{ID: userID.String(), Type: "user"},
		UserID:     userID.String(),
		Metadata:   metadata,
		OccurredAt: r.now(),
	}

	if err := normalizeActivitySink(r.activity).Record(ctx, event); err != nil {
		r.logger.Warn("activity sink record error: %v", err)
	}
}
