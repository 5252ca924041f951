package authkit

import (
	"context"
)

var userCtxKey = &contextKey{"user"}
var sessionCtxKey = &contextKey{"user_session"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok
}

// WithSessionContext sets the UserSession in the given context
func WithSessionContext(r context.Context, session *UserSession) context.Context {
	return context.WithValue(r, sessionCtxKey, session)
}

// SessionFromContext finds the login session from the context.
func SessionFromContext(ctx context.Context) (*UserSession, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*UserSession)
	return raw, ok
}
