package authkit

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Users() Users
	UserSessions() UserSessions
	AuthAccounts() AuthAccounts
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Validate() error
	MustValidate()
}

type mngr struct {
	db           *bun.DB
	users        Users
	sessions     UserSessions
	authAccounts AuthAccounts
}

// NewRepositoryManager wires the default repositories over one bun.DB.
func NewRepositoryManager(db *bun.DB, cfg Config) RepositoryManager {
	cfg = cfg.WithDefaults()
	return &mngr{
		db:           db,
		users:        NewUsersRepository(db),
		sessions:     NewUserSessionsRepository(db, cfg.SessionIdleExpiry),
		authAccounts: NewAuthAccountsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository userSessions should be initialized")
	}

	if m.authAccounts == nil {
		return errors.New("repository authAccounts should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) UserSessions() UserSessions {
	return m.sessions
}

func (m mngr) AuthAccounts() AuthAccounts {
	return m.authAccounts
}
