package authkit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserSessions is the session record store. Records are terminated by
// flagging, never deleted, so the audit trail survives.
type UserSessions interface {
	Create(ctx context.Context, userID uuid.UUID, ip, userAgent string) (*UserSession, error)
	CreateTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, ip, userAgent string) (*UserSession, error)

	// GetActive and GetActiveByToken only return sessions in the active
	// sub-state: not revoked, not signed out, inside the idle window.
	GetActive(ctx context.Context, id uuid.UUID) (*UserSession, error)
	GetActiveByToken(ctx context.Context, rememberToken string) (*UserSession, error)

	Access(ctx context.Context, session *UserSession, ip, userAgent string) error
	EnableSudo(ctx context.Context, session *UserSession) error

	SignOut(ctx context.Context, session *UserSession) error
	SignOutAllForUser(ctx context.Context, userID uuid.UUID) error
	Revoke(ctx context.Context, session *UserSession) error

	ActiveForUser(ctx context.Context, userID uuid.UUID) ([]*UserSession, error)
}

type userSessions struct {
	db         *bun.DB
	idleWindow time.Duration
	now        func() time.Time
}

var _ UserSessions = (*userSessions)(nil)

// NewUserSessionsRepository builds the store. A zero idleWindow disables
// inactivity expiry, both in memory and in the active scope.
func NewUserSessionsRepository(db *bun.DB, idleWindow time.Duration) UserSessions {
	return &userSessions{
		db:         db,
		idleWindow: idleWindow,
		now:        time.Now,
	}
}

func (r *userSessions) Create(ctx context.Context, userID uuid.UUID, ip, userAgent string) (*UserSession, error) {
	return r.CreateTx(ctx, r.db, userID, ip, userAgent)
}

// CreateTx generates the remember token exactly once, at creation. The
// unique index is the last line of defense against a collision; it
// surfaces as a conflict, it is not retried.
func (r *userSessions) CreateTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, ip, userAgent string) (*UserSession, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := r.now()
	session := &UserSession{
		ID:            uuid.New(),
		UserID:        userID,
		RememberToken: token,
		AccessedAt:    &now,
		IP:            ip,
		UserAgent:     userAgent,
		CreatedAt:     &now,
	}

	if _, err := tx.NewInsert().Model(session).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, NewIntegrityConflict(err, "remember token collision on unique index")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session record")
	}

	return session, nil
}

func (r *userSessions) GetActive(ctx context.Context, id uuid.UUID) (*UserSession, error) {
	return r.getActiveWhere(ctx, "?TableAlias.id = ?", id)
}

func (r *userSessions) GetActiveByToken(ctx context.Context, rememberToken string) (*UserSession, error) {
	if rememberToken == "" {
		return nil, repository.NewRecordNotFound()
	}
	return r.getActiveWhere(ctx, "?TableAlias.remember_token = ?", rememberToken)
}

func (r *userSessions) getActiveWhere(ctx context.Context, cond string, arg any) (*UserSession, error) {
	session := &UserSession{}

	q := r.db.NewSelect().
		Model(session).
		Where(cond, arg).
		Where("?TableAlias.revoked_at IS NULL").
		Where("?TableAlias.signed_out_at IS NULL")

	if r.idleWindow > 0 {
		q = q.Where("(?TableAlias.accessed_at IS NULL OR ?TableAlias.accessed_at >= ?)",
			r.now().Add(-r.idleWindow))
	}

	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return session, nil
}

func (r *userSessions) Access(ctx context.Context, session *UserSession, ip, userAgent string) error {
	session.Touch(ip, userAgent, r.now())
	return r.save(ctx, session, "accessed_at", "ip", "user_agent")
}

func (r *userSessions) EnableSudo(ctx context.Context, session *UserSession) error {
	now := r.now()
	session.SudoEnabledAt = &now
	return r.save(ctx, session, "sudo_enabled_at")
}

func (r *userSessions) SignOut(ctx context.Context, session *UserSession) error {
	now := r.now()
	session.SignedOutAt = &now
	return r.save(ctx, session, "signed_out_at")
}

func (r *userSessions) SignOutAllForUser(ctx context.Context, userID uuid.UUID) error {
	now := r.now()
	_, err := r.db.NewUpdate().
		Model((*UserSession)(nil)).
		Set("signed_out_at = ?", now).
		Where("user_id = ?", userID).
		Where("signed_out_at IS NULL").
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}

func (r *userSessions) Revoke(ctx context.Context, session *UserSession) error {
	now := r.now()
	session.RevokedAt = &now
	return r.save(ctx, session, "revoked_at")
}

func (r *userSessions) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]*UserSession, error) {
	var sessions []*UserSession

	q := r.db.NewSelect().
		Model(&sessions).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.revoked_at IS NULL").
		Where("?TableAlias.signed_out_at IS NULL").
		Order("accessed_at DESC")

	if r.idleWindow > 0 {
		q = q.Where("(?TableAlias.accessed_at IS NULL OR ?TableAlias.accessed_at >= ?)",
			r.now().Add(-r.idleWindow))
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*UserSession{}, nil
		}
		return nil, err
	}

	return sessions, nil
}

func (r *userSessions) save(ctx context.Context, session *UserSession, columns ...string) error {
	now := r.now()
	session.UpdatedAt = &now
	columns = append(columns, "updated_at")

	_, err := r.db.NewUpdate().
		Model(session).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update session record")
	}
	return nil
}
