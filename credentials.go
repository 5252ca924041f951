package authkit

import (
	validation "github.com/go-ozzo/ozzo-validation"
)

// MinPasswordLength is the policy minimum for new passwords.
var MinPasswordLength = 6

// passwordPayload is only validated when a password is actually being
// set; editing a user without touching the password never re-triggers
// the presence rule.
type passwordPayload struct {
	Password     string
	Confirmation string
}

func (p passwordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(
			&p.Password,
			validation.Required,
			validation.Length(MinPasswordLength, 0),
		),
		validation.Field(
			&p.Confirmation,
			validation.Required,
			validation.By(ValidateStringEquals(p.Password)),
		),
	)
}

// SetPassword validates and hashes a new password onto the user. The
// caller persists; that keeps the operation transaction friendly and
// lets reset flows hold their token until the save round trips.
func SetPassword(user *User, password, confirmation string) error {
	payload := passwordPayload{Password: password, Confirmation: confirmation}
	if err := payload.Validate(); err != nil {
		return NewValidationError("password is invalid", FormatValidationErrorToMap(err))
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	user.PasswordHash = hash
	return nil
}

// Authenticate runs the cleartext password through the digest. It is
// false for passwordless (external only) users and never errors on a
// missing hash.
func Authenticate(user *User, password string) bool {
	if user == nil || !user.HasPassword() {
		return false
	}
	return ComparePasswordAndHash(password, user.PasswordHash) == nil
}
