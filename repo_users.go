package authkit

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the principal store.
type Users interface {
	repository.Repository[*User]

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	// FindByLogin resolves a case insensitive email or, when enabled,
	// username identifier.
	FindByLogin(ctx context.Context, identifier string, usernameEnabled bool) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindByToken resolves the holder of a single use token through its
	// unique index. Presence is not validity, callers still compare and
	// check the token's age.
	FindByToken(ctx context.Context, purpose TokenPurpose, token string) (*User, error)

	// SaveTokens persists the token columns synchronously so an issued
	// token is valid right away. Uniqueness violations escalate.
	SaveTokens(ctx context.Context, user *User) error

	// SaveEmailChange persists a confirmed address swap together with
	// the confirmation token columns in one statement. When the target
	// address is already taken nothing is written, so a previously
	// issued token survives for a retry.
	SaveEmailChange(ctx context.Context, user *User) error

	// SavePassword persists a new digest together with the reset token
	// columns in one statement.
	SavePassword(ctx context.Context, user *User) error

	TrackSignIn(ctx context.Context, user *User, ip string) error

	Suspend(ctx context.Context, user *User) error
	Reinstate(ctx context.Context, user *User) error
}

type users struct {
	repository.Repository[*User]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

// NewUsersRepository builds the default bun backed implementation.
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)

	record, err := a.Repository.CreateTx(ctx, tx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewIntegrityConflict(err, "user identifier already taken")
		}
		return nil, err
	}
	return record, nil
}

func (a *users) FindByLogin(ctx context.Context, identifier string, usernameEnabled bool) (*User, error) {
	login := strings.ToLower(strings.TrimSpace(identifier))
	if login == "" {
		return nil, repository.NewRecordNotFound()
	}

	record := &User{}
	q := a.db.NewSelect().Model(record)

	if usernameEnabled {
		q = q.Where("?TableAlias.email = ? OR LOWER(?TableAlias.username) = ?", login, login)
	} else {
		q = q.Where("?TableAlias.email = ?", login)
	}

	if err := q.Limit(1).Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"identifier": login,
			})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByLogin(ctx, email, false)
}

func (a *users) FindByToken(ctx context.Context, purpose TokenPurpose, token string) (*User, error) {
	if token == "" {
		return nil, repository.NewRecordNotFound()
	}

	column, err := tokenColumn(purpose)
	if err != nil {
		return nil, err
	}

	record := &User{}
	q := a.db.NewSelect().
		Model(record).
		Where("?TableAlias."+column+" = ?", token).
		Limit(1)

	if err := q.Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"purpose": string(purpose),
			})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) SaveEmailChange(ctx context.Context, user *User) error {
	now := a.now()
	user.UpdatedAt = &now

	_, err := a.db.NewUpdate().
		Model(user).
		Column(
			"email", "confirmation_email",
			"confirmation_token", "confirmation_token_created_at",
			"updated_at",
		).
		WherePK().
		Exec(ctx)

	if err != nil {
		if isUniqueViolation(err) {
			return NewIntegrityConflict(err, "email already taken")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist email change")
	}
	return nil
}

func (a *users) SavePassword(ctx context.Context, user *User) error {
	now := a.now()
	user.UpdatedAt = &now

	_, err := a.db.NewUpdate().
		Model(user).
		Column(
			"password_digest",
			"reset_password_token", "reset_password_token_created_at",
			"updated_at",
		).
		WherePK().
		Exec(ctx)

	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist password change")
	}
	return nil
}

func (a *users) SaveTokens(ctx context.Context, user *User) error {
	now := a.now()
	user.UpdatedAt = &now

	_, err := a.db.NewUpdate().
		Model(user).
		Column(
			"remember_token", "remember_token_created_at",
			"reset_password_token", "reset_password_token_created_at",
			"confirmation_token", "confirmation_token_created_at",
			"unlock_token", "unlock_token_created_at",
			"updated_at",
		).
		WherePK().
		Exec(ctx)

	if err != nil {
		if isUniqueViolation(err) {
			return NewIntegrityConflict(err, "token collision on unique index")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist user tokens")
	}
	return nil
}

func (a *users) TrackSignIn(ctx context.Context, user *User, ip string) error {
	user.TrackSignIn(ip, a.now())

	// NOTE: sparse ORM updates won't null the rotated last_* pair when
	// it was never set, raw keeps the three writes in one statement.
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"sign_in_count" = ?,
			"last_sign_in_at" = ?,
			"last_sign_in_ip" = ?,
			"current_sign_in_at" = ?,
			"current_sign_in_ip" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, user.SignInCount, user.LastSignInAt, user.LastSignInIP,
		user.CurrentSignInAt, user.CurrentSignInIP, user.ID).Exec(ctx)

	return err
}

func (a *users) Suspend(ctx context.Context, user *User) error {
	now := a.now()
	user.SuspendedAt = &now
	return a.saveSuspension(ctx, user)
}

func (a *users) Reinstate(ctx context.Context, user *User) error {
	user.SuspendedAt = nil
	return a.saveSuspension(ctx, user)
}

func (a *users) saveSuspension(ctx context.Context, user *User) error {
	now := a.now()
	user.UpdatedAt = &now

	_, err := a.db.NewUpdate().
		Model(user).
		Column("suspended_at", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.NormalizeEmail()
	record.EnsureConfirmationEmail()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

// isUniqueViolation matches the driver agnostic signatures of a unique
// index conflict.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
