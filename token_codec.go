package authkit

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenCodec issues and verifies signed, opaque tokens bound to a
// principal id. Tokens carry no expiry themselves; the purpose specific
// creation timestamps stored next to them drive expiry.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	logger     Logger
}

// NewTokenCodec creates a codec for the given server held secret.
func NewTokenCodec(signingKey []byte, issuer string) *TokenCodec {
	return &TokenCodec{
		signingKey: signingKey,
		issuer:     issuer,
		logger:     defLogger{},
	}
}

func (tc *TokenCodec) WithLogger(logger Logger) *TokenCodec {
	if logger != nil {
		tc.logger = logger
	}
	return tc
}

// Issue encodes the principal id into a signed token.
func (tc *TokenCodec) Issue(principalID uuid.UUID) (string, error) {
	if len(tc.signingKey) == 0 {
		return "", NewConfigurationFault("authkit: token codec has no signing key")
	}

	claims := jwt.RegisteredClaims{
		Issuer:  tc.issuer,
		Subject: principalID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign principal token")
	}

	return signed, nil
}

// Verify fails closed: malformed, unsigned or mis-signed tokens come
// back as the generic token denial, never as a raw parser error. The
// HMAC check inside the parser is constant time.
func (tc *TokenCodec) Verify(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, ErrInvalidToken
	}

	parserOptions := []jwt.ParserOption{}
	if tc.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(tc.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			tc.logger.Error("token codec rejected unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tc.signingKey, nil
	}, parserOptions...)

	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return uuid.Nil, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}

	return id, nil
}
