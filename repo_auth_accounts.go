package authkit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthAccounts stores external provider links keyed by
// (provider, provider_uid).
type AuthAccounts interface {
	FindByProviderUID(ctx context.Context, provider, providerUID string) (*AuthAccount, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) ([]*AuthAccount, error)
	Upsert(ctx context.Context, account *AuthAccount) error
	UpsertTx(ctx context.Context, tx bun.IDB, account *AuthAccount) error
	DeleteByUserAndProvider(ctx context.Context, userID uuid.UUID, provider string) error
}

type authAccounts struct {
	db  *bun.DB
	now func() time.Time
}

var _ AuthAccounts = (*authAccounts)(nil)

// NewAuthAccountsRepository creates a new repository.
func NewAuthAccountsRepository(db *bun.DB) AuthAccounts {
	return &authAccounts{db: db, now: time.Now}
}

func (r *authAccounts) FindByProviderUID(ctx context.Context, provider, providerUID string) (*AuthAccount, error) {
	account := &AuthAccount{}
	err := r.db.NewSelect().
		Model(account).
		Where("provider = ? AND provider_uid = ?", provider, providerUID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return account, nil
}

func (r *authAccounts) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*AuthAccount, error) {
	var accounts []*AuthAccount
	err := r.db.NewSelect().
		Model(&accounts).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*AuthAccount{}, nil
		}
		return nil, err
	}
	return accounts, nil
}

func (r *authAccounts) Upsert(ctx context.Context, account *AuthAccount) error {
	return r.UpsertTx(ctx, r.db, account)
}

func (r *authAccounts) UpsertTx(ctx context.Context, tx bun.IDB, account *AuthAccount) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := r.now()
	account.UpdatedAt = &now
	if account.ProfileData == nil {
		account.ProfileData = map[string]any{}
	}

	_, err := tx.NewInsert().
		Model(account).
		On("CONFLICT (provider, provider_uid) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_expires_at = EXCLUDED.token_expires_at").
		Set("profile_data = EXCLUDED.profile_data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}

func (r *authAccounts) DeleteByUserAndProvider(ctx context.Context, userID uuid.UUID, provider string) error {
	_, err := r.db.NewDelete().
		Model((*AuthAccount)(nil)).
		Where("user_id = ? AND provider = ?", userID, provider).
		Exec(ctx)
	return err
}
