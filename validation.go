package authkit

import (
	"errors"
	"net/mail"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/nyaruka/phonenumbers"
)

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// ValidatePhoneNumber parses the value as a phone number. Blank values
// pass; pair with validation.Required when the field is mandatory.
func ValidatePhoneNumber(defaultRegion string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		num, err := phonenumbers.Parse(s, defaultRegion)
		if err != nil {
			return errors.New("must be a valid phone number")
		}
		if !phonenumbers.IsValidNumber(num) {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field keyed map suitable for error metadata and view contexts.
func FormatValidationErrorToMap(err error) map[string]any {
	out := map[string]any{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["base"] = err.Error()
	return out
}

func isEmail(email string) bool {
	if strings.TrimSpace(email) == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}
