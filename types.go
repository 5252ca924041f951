package authkit

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Mailer is the delivery collaborator. The core decides when to notify;
// how the message leaves the process is not its concern.
type Mailer interface {
	SendConfirmation(ctx context.Context, user *User, token string) error
	SendPasswordReset(ctx context.Context, user *User, token string) error
	SendWelcome(ctx context.Context, user *User) error
}

// SessionContainer is the per client server side key/value store,
// distinct from UserSession. Reset must drop every key so no residual
// identifiers survive a login or logout.
type SessionContainer interface {
	Get(key string) string
	Set(key, value string)
	Delete(key string)
	Reset()
}

// RequestContext is everything the resolver needs from an inbound
// request: client metadata, the session container, the signed remember
// cookie, and a request scoped scratch space for memoization.
type RequestContext interface {
	ClientIP() string
	UserAgent() string
	// AllowTracking is false when the request carries a do-not-track
	// signal (DNT or X-Do-Not-Track).
	AllowTracking() bool
	OriginalURL() string

	Session() SessionContainer

	RememberCookie() string
	SetRememberCookie(value string, ttl time.Duration)
	DeleteRememberCookie()

	Local(key string) (any, bool)
	SetLocal(key string, value any)
	DeleteLocal(key string)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTHKIT "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTHKIT "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTHKIT "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTHKIT "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
