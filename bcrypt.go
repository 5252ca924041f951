package authkit

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for password digests.
var BcryptCost = 12

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", NewValidationError("password can't be blank", map[string]any{
			"password": "required",
		})
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(h), nil
}

// ComparePasswordAndHash will validate the given cleartext password
// matches the hashed password. bcrypt does the constant time work; a
// mismatch maps to the generic credential denial.
func ComparePasswordAndHash(password, hash string) error {
	if hash == "" {
		// Externally authenticated users have no digest; deny, don't panic.
		return ErrAuthenticationDenied
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrAuthenticationDenied
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password comparison failed")
	}
	return nil
}
