package authkit

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"time"
)

// TokenPurpose names a single use token slot on the user.
type TokenPurpose string

const (
	TokenPurposeRemember      TokenPurpose = "remember"
	TokenPurposeResetPassword TokenPurpose = "reset_password"
	TokenPurposeConfirmation  TokenPurpose = "confirmation"
	TokenPurposeUnlock        TokenPurpose = "unlock"
)

// tokenEntropy is the random byte count behind every generated token.
// Collisions against the unique index are on the order of 1/2^256 and
// are escalated, never retried.
const tokenEntropy = 32

// GenerateToken returns an unguessable urlsafe value.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenEntropy)
	if _, err := rand.Read(buf); err != nil {
		return "", NewConfigurationFault("authkit: system randomness unavailable")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SecureCompare is a constant time equality check for token values.
// It runs in time proportional only to the supplied value's length.
func SecureCompare(given, stored string) bool {
	if stored == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(stored)) == 1
}

// TokenStore issues, checks and consumes the purpose bound token slots
// on a user. Issue persists synchronously so the token is valid the
// moment the caller hands it out; persistence failures (including
// uniqueness conflicts) surface untouched.
type TokenStore struct {
	users Users
	cfg   Config
	now   func() time.Time
}

// NewTokenStore builds the store around the users repository.
func NewTokenStore(users Users, cfg Config) *TokenStore {
	return &TokenStore{
		users: users,
		cfg:   cfg.WithDefaults(),
		now:   time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (ts *TokenStore) WithClock(clock func() time.Time) *TokenStore {
	if clock != nil {
		ts.now = clock
	}
	return ts
}

// Issue generates a fresh token for the purpose, stamps it, and saves.
func (ts *TokenStore) Issue(ctx context.Context, user *User, purpose TokenPurpose) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	now := ts.now()
	user.setToken(purpose, token, &now)

	if err := ts.users.SaveTokens(ctx, user); err != nil {
		return "", err
	}
	return token, nil
}

// Expired is true when the purpose was never issued or its creation
// timestamp is older than the purpose TTL. Remember tokens carry no TTL
// of their own; the session record lifecycle bounds them.
func (ts *TokenStore) Expired(user *User, purpose TokenPurpose) bool {
	token, createdAt := user.token(purpose)
	if token == "" || createdAt == nil {
		return true
	}

	ttl := ts.cfg.TokenTTL(purpose)
	if ttl <= 0 {
		return false
	}
	return createdAt.Before(ts.now().Add(-ttl))
}

// Valid combines presence, constant time equality and expiry.
func (ts *TokenStore) Valid(user *User, purpose TokenPurpose, given string) bool {
	stored, _ := user.token(purpose)
	if !SecureCompare(given, stored) {
		return false
	}
	return !ts.Expired(user, purpose)
}

// Consume clears the token and its timestamp and saves. Only call once
// the guarded action is known valid: a reset token survives a rejected
// replacement password so the user can retry with the same link.
func (ts *TokenStore) Consume(ctx context.Context, user *User, purpose TokenPurpose) error {
	user.setToken(purpose, "", nil)
	return ts.users.SaveTokens(ctx, user)
}

// tokenColumn maps a purpose to its storage column.
func tokenColumn(purpose TokenPurpose) (string, error) {
	switch purpose {
	case TokenPurposeRemember:
		return "remember_token", nil
	case TokenPurposeResetPassword:
		return "reset_password_token", nil
	case TokenPurposeConfirmation:
		return "confirmation_token", nil
	case TokenPurposeUnlock:
		return "unlock_token", nil
	default:
		return "", NewConfigurationFault("authkit: unknown token purpose " + string(purpose))
	}
}

func (u *User) token(purpose TokenPurpose) (string, *time.Time) {
	switch purpose {
	case TokenPurposeRemember:
		return u.RememberToken, u.RememberTokenCreatedAt
	case TokenPurposeResetPassword:
		return u.ResetPasswordToken, u.ResetPasswordTokenCreatedAt
	case TokenPurposeConfirmation:
		return u.ConfirmationToken, u.ConfirmationTokenCreatedAt
	case TokenPurposeUnlock:
		return u.UnlockToken, u.UnlockTokenCreatedAt
	default:
		return "", nil
	}
}

func (u *User) setToken(purpose TokenPurpose, token string, createdAt *time.Time) {
	switch purpose {
	case TokenPurposeRemember:
		u.RememberToken, u.RememberTokenCreatedAt = token, createdAt
	case TokenPurposeResetPassword:
		u.ResetPasswordToken, u.ResetPasswordTokenCreatedAt = token, createdAt
	case TokenPurposeConfirmation:
		u.ConfirmationToken, u.ConfirmationTokenCreatedAt = token, createdAt
	case TokenPurposeUnlock:
		u.UnlockToken, u.UnlockTokenCreatedAt = token, createdAt
	}
}
