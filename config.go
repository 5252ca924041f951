package authkit

import "time"

// Config holds the feature toggles and policy knobs for the auth core.
// The generator style option flags (username on/off, oauth on/off,
// per provider switches) are explicit fields checked at runtime.
type Config struct {
	// SigningKey signs remember cookies and opaque principal tokens.
	// Startup fails without it.
	SigningKey string

	// UsernameEnabled adds the unique username identifier and allows
	// username lookups during password reset.
	UsernameEnabled bool

	// OAuthEnabled allows principals whose only credential is an
	// external AuthAccount.
	OAuthEnabled bool

	// EnabledProviders gates which external providers may be linked.
	EnabledProviders map[string]bool

	// Token TTLs. Zero falls back to the default for the purpose.
	ResetTokenTTL   time.Duration
	ConfirmTokenTTL time.Duration
	UnlockTokenTTL  time.Duration

	// RememberCookieTTL bounds the persistent cookie itself; the session
	// record carries its own lifecycle.
	RememberCookieTTL time.Duration

	// SessionIdleExpiry marks session records stale after inactivity.
	// Zero disables the check (the policy is optional).
	SessionIdleExpiry time.Duration

	// SecureCookies should be on in production.
	SecureCookies bool

	SessionCookieName  string
	RememberCookieName string
}

const (
	defaultResetTokenTTL     = 24 * time.Hour
	defaultConfirmTokenTTL   = 72 * time.Hour
	defaultUnlockTokenTTL    = time.Hour
	defaultRememberCookieTTL = 30 * 24 * time.Hour

	defaultSessionCookieName  = "_session"
	defaultRememberCookieName = "remember"
)

// Validate aborts startup on misconfiguration; nothing here is a
// per request condition.
func (c *Config) Validate() error {
	if c.SigningKey == "" {
		return NewConfigurationFault("authkit: signing key is required")
	}
	return nil
}

// WithDefaults fills unset knobs.
func (c Config) WithDefaults() Config {
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = defaultResetTokenTTL
	}
	if c.ConfirmTokenTTL <= 0 {
		c.ConfirmTokenTTL = defaultConfirmTokenTTL
	}
	if c.UnlockTokenTTL <= 0 {
		c.UnlockTokenTTL = defaultUnlockTokenTTL
	}
	if c.RememberCookieTTL <= 0 {
		c.RememberCookieTTL = defaultRememberCookieTTL
	}
	if c.SessionCookieName == "" {
		c.SessionCookieName = defaultSessionCookieName
	}
	if c.RememberCookieName == "" {
		c.RememberCookieName = defaultRememberCookieName
	}
	return c
}

// ProviderEnabled checks the per provider switch; with OAuth off every
// provider is rejected.
func (c *Config) ProviderEnabled(provider string) bool {
	if !c.OAuthEnabled {
		return false
	}
	if len(c.EnabledProviders) == 0 {
		return true
	}
	return c.EnabledProviders[provider]
}

// TokenTTL maps a purpose to its policy window. Remember tokens have no
// TTL of their own; the session record lifecycle bounds them.
func (c *Config) TokenTTL(purpose TokenPurpose) time.Duration {
	switch purpose {
	case TokenPurposeResetPassword:
		return c.ResetTokenTTL
	case TokenPurposeConfirmation:
		return c.ConfirmTokenTTL
	case TokenPurposeUnlock:
		return c.UnlockTokenTTL
	default:
		return 0
	}
}
