package authkit

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// SignupForm is the multi model capture behind registration: the user
// record plus the agreement and preference fields that never persist.
type SignupForm struct {
	Email                string `json:"email"`
	Username             string `json:"username"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	Bio                  string `json:"bio"`
	Website              string `json:"website"`
	Phone                string `json:"phone"`
	TimeZone             string `json:"time_zone"`
	TermsOfService       bool   `json:"terms_of_service"`

	// UseHashid derives the user id deterministically from the email,
	// useful when an upstream system needs stable ids.
	UseHashid bool `json:"-"`

	// PhoneRegion is the default region for national phone formats.
	PhoneRegion string `json:"-"`
}

// Validate enforces the form level rules. Password rules live with
// SetPassword; external signups omit the password entirely so it is
// only checked when present or when no external account rides along.
func (f SignupForm) Validate(usernameEnabled, requirePassword bool) error {
	region := f.PhoneRegion
	if region == "" {
		region = "US"
	}

	fields := []*validation.FieldRules{
		validation.Field(&f.Email, validation.Required, is.Email),
		validation.Field(&f.Phone, validation.By(ValidatePhoneNumber(region))),
		validation.Field(&f.TermsOfService,
			validation.Required.Error("must be accepted"),
		),
	}

	if usernameEnabled {
		fields = append(fields, validation.Field(&f.Username, validation.Required))
	}

	if requirePassword {
		fields = append(fields, validation.Field(&f.Password, validation.Required))
	}

	if err := validation.ValidateStruct(&f, fields...); err != nil {
		return NewValidationError("signup validation failed", FormatValidationErrorToMap(err))
	}

	return nil
}

// Signup registers new users: validate the composite form, persist the
// user (and the external account when one rides along) in a single
// transaction, then arm the confirmation token and send the welcome.
type Signup struct {
	repo         RepositoryManager
	cfg          Config
	confirmation *ConfirmationWorkflow
	mailer       Mailer
	activity     ActivitySink
	logger       Logger
	now          func() time.Time
}

func NewSignup(repo RepositoryManager, cfg Config) *Signup {
	cfg = cfg.WithDefaults()
	return &Signup{
		repo:         repo,
		cfg:          cfg,
		confirmation: NewConfirmationWorkflow(repo, cfg),
		mailer:       noopMailer{},
		activity:     noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
}

func (s *Signup) WithMailer(mailer Mailer) *Signup {
	s.mailer = normalizeMailer(mailer)
	s.confirmation.WithMailer(mailer)
	return s
}

func (s *Signup) WithActivitySink(sink ActivitySink) *Signup {
	s.activity = normalizeActivitySink(sink)
	s.confirmation.WithActivitySink(sink)
	return s
}

func (s *Signup) WithLogger(logger Logger) *Signup {
	if logger != nil {
		s.logger = logger
	}
	s.confirmation.WithLogger(logger)
	return s
}

// Register creates the account from the form. The optional account links
// an external identity established during signup; when present the
// password may be blank.
func (s *Signup) Register(ctx context.Context, form SignupForm, account *AuthAccount) (*User, error) {
	requirePassword := account == nil
	if err := form.Validate(s.cfg.UsernameEnabled, requirePassword); err != nil {
		return nil, err
	}

	user := &User{
		Email:     strings.ToLower(strings.TrimSpace(form.Email)),
		Username:  strings.TrimSpace(form.Username),
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Bio:       form.Bio,
		Website:   form.Website,
		Phone:     form.Phone,
		TimeZone:  form.TimeZone,
	}

	if form.Password != "" || requirePassword {
		if err := SetPassword(user, form.Password, form.PasswordConfirmation); err != nil {
			return nil, err
		}
	}

	if form.UseHashid {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.repo.Users().RegisterTx(ctx, tx, user)
		if err != nil {
			return err
		}
		user = record

		if account != nil {
			account.UserID = user.ID
			if err := s.repo.AuthAccounts().UpsertTx(ctx, tx, account); err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "signup transaction failed")
	}

	// Post commit side effects. A failed token issue leaves a valid but
	// unconfirmed account; the confirmation can be re-armed later.
	if _, err := s.confirmation.ArmConfirmation(ctx, user); err != nil {
		s.logger.Error("failed to arm confirmation for %s: %v", user.Email, err)
	}

	if err := s.mailer.SendWelcome(ctx, user); err != nil {
		s.logger.Error("welcome mail delivery failed: %v", err)
	}

	s.record(ctx, user)

	return user, nil
}

func (s *Signup) record(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType:  ActivityEventSignup,
		Actor:      ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:     user.ID.String(),
		OccurredAt: s.now(),
	}
	if err := s.activity.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}
