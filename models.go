package authkit

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the principal model. Email is the canonical identifier and is
// always stored lowercased; ConfirmationEmail holds the pending address
// until the confirmation workflow promotes it.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID           uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email        string    `bun:"email,notnull,unique" json:"email,omitempty"`
	Username     string    `bun:"username,unique,nullzero" json:"username,omitempty"`
	PasswordHash string    `bun:"password_digest" json:"-"`

	// Pending email change, promoted to Email on confirmation.
	ConfirmationEmail string `bun:"confirmation_email" json:"confirmation_email,omitempty"`

	// Purpose bound tokens. Tokens are single use; the paired timestamp
	// drives expiry so verification stays a pure read.
	RememberToken               string     `bun:"remember_token,unique,nullzero" json:"-"`
	RememberTokenCreatedAt      *time.Time `bun:"remember_token_created_at,nullzero" json:"-"`
	ResetPasswordToken          string     `bun:"reset_password_token,unique,nullzero" json:"-"`
	ResetPasswordTokenCreatedAt *time.Time `bun:"reset_password_token_created_at,nullzero" json:"-"`
	ConfirmationToken           string     `bun:"confirmation_token,unique,nullzero" json:"-"`
	ConfirmationTokenCreatedAt  *time.Time `bun:"confirmation_token_created_at,nullzero" json:"-"`
	UnlockToken                 string     `bun:"unlock_token,unique,nullzero" json:"-"`
	UnlockTokenCreatedAt        *time.Time `bun:"unlock_token_created_at,nullzero" json:"-"`

	// Sign in tracking.
	SignInCount     int        `bun:"sign_in_count" json:"sign_in_count,omitempty"`
	CurrentSignInAt *time.Time `bun:"current_sign_in_at,nullzero" json:"current_sign_in_at,omitempty"`
	CurrentSignInIP string     `bun:"current_sign_in_ip" json:"current_sign_in_ip,omitempty"`
	LastSignInAt    *time.Time `bun:"last_sign_in_at,nullzero" json:"last_sign_in_at,omitempty"`
	LastSignInIP    string     `bun:"last_sign_in_ip" json:"last_sign_in_ip,omitempty"`

	// A non nil SuspendedAt denies login regardless of credentials.
	SuspendedAt *time.Time `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`

	FirstName string `bun:"first_name" json:"first_name,omitempty"`
	LastName  string `bun:"last_name" json:"last_name,omitempty"`
	Bio       string `bun:"bio" json:"bio,omitempty"`
	Website   string `bun:"website" json:"website,omitempty"`
	Phone     string `bun:"phone_number" json:"phone_number,omitempty"`
	TimeZone  string `bun:"time_zone" json:"time_zone,omitempty"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// DisplayName joins the name parts, skipping blanks
func (u *User) DisplayName() string {
	parts := []string{}
	for _, p := range []string{u.FirstName, u.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Suspended reports whether login should be denied for this user.
func (u *User) Suspended() bool {
	return u.SuspendedAt != nil
}

// HasPassword is safe on users that only authenticate through an
// external provider.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// Confirmed reports whether the primary email has no pending change.
func (u *User) Confirmed() bool {
	return u.ConfirmationToken == "" && (u.ConfirmationEmail == "" || u.ConfirmationEmail == u.Email)
}

// NormalizeEmail lowercases emails before validation/persistence.
func (u *User) NormalizeEmail() {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.ConfirmationEmail = strings.ToLower(strings.TrimSpace(u.ConfirmationEmail))
}

// EnsureConfirmationEmail defaults the pending email to the current one.
func (u *User) EnsureConfirmationEmail() {
	if u.ConfirmationEmail == "" {
		u.ConfirmationEmail = u.Email
	}
}

// TrackSignIn rotates the current/last sign in pairs. Persistence is the
// caller's job so the update can ride an existing transaction.
func (u *User) TrackSignIn(ip string, now time.Time) {
	u.SignInCount++
	u.LastSignInAt = u.CurrentSignInAt
	u.LastSignInIP = u.CurrentSignInIP
	u.CurrentSignInAt = &now
	u.CurrentSignInIP = ip
}

// UserSession is one login instance for a user: one record per
// device/login, revocable, tracked on every authenticated request and
// never physically deleted.
type UserSession struct {
	bun.BaseModel `bun:"table:user_sessions,alias:uss"`

	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	RememberToken string     `bun:"remember_token,notnull,unique" json:"-"`
	AccessedAt    *time.Time `bun:"accessed_at,nullzero" json:"accessed_at,omitempty"`
	IP            string     `bun:"ip" json:"ip,omitempty"`
	UserAgent     string     `bun:"user_agent" json:"user_agent,omitempty"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	SignedOutAt   *time.Time `bun:"signed_out_at,nullzero" json:"signed_out_at,omitempty"`
	SudoEnabledAt *time.Time `bun:"sudo_enabled_at,nullzero" json:"sudo_enabled_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// SudoWindow is how long an elevation obtained through EnableSudo lasts.
var SudoWindow = time.Hour

// Active means the session has not been signed out or revoked and has
// not gone idle past the given window. A zero window disables the idle
// check.
func (s *UserSession) Active(idleWindow time.Duration, now time.Time) bool {
	return !s.Expired(idleWindow, now) && !s.SignedOut() && !s.Revoked()
}

// Expired is the inactivity check: a session that has been accessed is
// stale once its last access falls outside the idle window.
func (s *UserSession) Expired(idleWindow time.Duration, now time.Time) bool {
	if idleWindow <= 0 || s.AccessedAt == nil {
		return false
	}
	return !s.AccessedAt.After(now.Add(-idleWindow))
}

// SignedOut reports an explicit logout.
func (s *UserSession) SignedOut() bool {
	return s.SignedOutAt != nil
}

// Revoked reports an administrative termination.
func (s *UserSession) Revoked() bool {
	return s.RevokedAt != nil
}

// Sudo reports whether a still valid elevation is present.
func (s *UserSession) Sudo(now time.Time) bool {
	return s.SudoEnabledAt != nil && s.SudoEnabledAt.After(now.Add(-SudoWindow))
}

// Touch records an authenticated access.
func (s *UserSession) Touch(ip, userAgent string, now time.Time) {
	s.AccessedAt = &now
	s.IP = ip
	s.UserAgent = userAgent
}

// AuthAccount links a user to an external authentication provider. Users
// that carry only auth accounts may have no password at all; the core
// tolerates that everywhere.
type AuthAccount struct {
	bun.BaseModel `bun:"table:auth_accounts,alias:aac"`

	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID         uuid.UUID      `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User           *User          `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Provider       string         `bun:"provider,notnull,unique:provider_identity" json:"provider,omitempty"`
	ProviderUID    string         `bun:"provider_uid,notnull,unique:provider_identity" json:"provider_uid,omitempty"`
	AccessToken    string         `bun:"access_token" json:"-"`
	RefreshToken   string         `bun:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time     `bun:"token_expires_at,nullzero" json:"token_expires_at,omitempty"`
	ProfileData    map[string]any `bun:"profile_data,type:jsonb" json:"profile_data,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// TokenExpired reports whether the provider token needs a refresh.
func (a *AuthAccount) TokenExpired(now time.Time) bool {
	return a.TokenExpiresAt != nil && a.TokenExpiresAt.Before(now)
}
