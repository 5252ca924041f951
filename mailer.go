package authkit

import "context"

// LogMailer is the default delivery stand in. It records the intent on
// the logger so development setups can follow the flow without an
// outbound channel. Tokens are sensitive, only debug level sees them.
type LogMailer struct {
	Logger Logger
}

func NewLogMailer(logger Logger) *LogMailer {
	if logger == nil {
		logger = defLogger{}
	}
	return &LogMailer{Logger: logger}
}

func (m *LogMailer) SendConfirmation(_ context.Context, user *User, token string) error {
	m.Logger.Info("confirmation instructions for %s", user.ConfirmationEmail)
	m.Logger.Debug("confirmation token for %s: %s", user.ConfirmationEmail, token)
	return nil
}

func (m *LogMailer) SendPasswordReset(_ context.Context, user *User, token string) error {
	m.Logger.Info("password reset instructions for %s", user.Email)
	m.Logger.Debug("password reset token for %s: %s", user.Email, token)
	return nil
}

func (m *LogMailer) SendWelcome(_ context.Context, user *User) error {
	m.Logger.Info("welcome message for %s", user.Email)
	return nil
}

type noopMailer struct{}

func (noopMailer) SendConfirmation(context.Context, *User, string) error { return nil }
func (noopMailer) SendPasswordReset(context.Context, *User, string) error {
	return nil
}
func (noopMailer) SendWelcome(context.Context, *User) error { return nil }

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}
