package authkit

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// RegisterAuthRoutes mounts the authentication endpoints on the router.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	app.
		Get(controller.Routes.Login, controller.LoginShow).
		SetName("sign-in.get")
	app.
		Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).SetName("sign-out.get")

	app.Get(controller.Routes.Signup, controller.SignupShow).
		SetName("signup.get")
	app.Post(controller.Routes.Signup, controller.SignupCreate).
		SetName("signup.post")

	app.Get(controller.Routes.PasswordReset, controller.PasswordResetShow).
		SetName("pwd-reset.get")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("pwd-reset.post")

	app.Get(controller.Routes.PasswordChange, controller.PasswordChangeShow).
		SetName("pwd-change.get")
	app.Post(controller.Routes.PasswordChange, controller.PasswordChangePost).
		SetName("pwd-change.post")

	app.Get(controller.Routes.Confirmation, controller.ConfirmationShow).
		SetName("email-confirm.get")
}

type AuthControllerRoutes struct {
	Login          string
	Logout         string
	Signup         string
	PasswordReset  string
	PasswordChange string
	Confirmation   string
}

type AuthControllerViews struct {
	Login          string
	Signup         string
	PasswordReset  string
	PasswordChange string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Config       Config
	Repo         RepositoryManager
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	Resolver     *Resolver
	Auther       *Authenticator
	Signup       *Signup
	Reset        *PasswordResetWorkflow
	Confirmation *ConfirmationWorkflow
	ErrorHandler router.ErrorHandler

	signer *CookieSigner
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &AuthControllerRoutes{
			Login:          "/login",
			Logout:         "/logout",
			Signup:         "/signup",
			PasswordReset:  "/password-reset",
			PasswordChange: "/password-change",
			Confirmation:   "/confirm",
		},
		Views: &AuthControllerViews{
			Login:          "login",
			Signup:         "signup",
			PasswordReset:  "password_reset",
			PasswordChange: "password_change",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	c.Config = c.Config.WithDefaults()
	c.signer = NewCookieSigner([]byte(c.Config.SigningKey))

	if c.Resolver == nil {
		c.Resolver = NewResolver(c.Repo, c.Config)
	}

	if c.Auther == nil {
		c.Auther = NewAuthenticator(c.Repo, c.Resolver, c.Config)
	}

	if c.Signup == nil {
		c.Signup = NewSignup(c.Repo, c.Config)
	}

	if c.Reset == nil {
		c.Reset = NewPasswordResetWorkflow(c.Repo, c.Config)
	}

	if c.Confirmation == nil {
		c.Confirmation = NewConfirmationWorkflow(c.Repo, c.Config)
	}

	return c
}

// WithConfig sets the controller configuration.
func WithConfig(cfg Config) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Config = cfg
		return c
	}
}

// WithRepositoryManager sets the backing stores.
func WithRepositoryManager(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// request wraps the router context with the cookie aware adapter. The
// adapter is memoized on Locals so every handler in the chain shares
// one session container.
func (a *AuthController) request(ctx router.Context) *RouterRequest {
	if cached := ctx.Locals("authkit.request"); cached != nil {
		if rc, ok := cached.(*RouterRequest); ok {
			return rc
		}
	}
	rc := NewRouterRequest(ctx, a.Config, a.signer)
	ctx.Locals("authkit.request", rc)
	return rc
}

func (a *AuthController) flush(rc *RouterRequest) {
	if err := rc.Flush(); err != nil {
		a.Logger.Error("failed to write session cookie: %v", err)
	}
}

func (a *AuthController) LoginShow(ctx router.Context) error {
	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors": nil,
		"record": nil,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Login, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	rc := a.request(ctx)

	if _, err := a.Auther.Login(ctx.Context(), rc, payload.Identifier, payload.Password, payload.RememberMe); err != nil {
		a.flush(rc)
		return flash.WithError(ctx, router.ViewContext{
			"error_message": MessageInvalidCredentials,
		}).Status(fiber.StatusUnprocessableEntity).Render(a.Views.Login, router.ViewContext{
			"record": payload,
			"errors": map[string]string{"authentication": MessageInvalidCredentials},
		})
	}

	redirect := a.Resolver.ReturnURL(rc, "/")
	a.flush(rc)

	return ctx.Redirect(redirect, router.StatusSeeOther)
}

func (a *AuthController) LogOut(ctx router.Context) error {
	rc := a.request(ctx)
	if err := a.Resolver.Logout(ctx.Context(), rc); err != nil {
		a.Logger.Error("logout error: %v", err)
	}
	a.flush(rc)
	return ctx.Redirect("/", router.StatusTemporaryRedirect)
}

func (a *AuthController) SignupShow(ctx router.Context) error {
	return ctx.Render(a.Views.Signup, router.ViewContext{
		"errors": map[string]string{},
		"record": SignupForm{},
	})
}

func (a *AuthController) SignupCreate(ctx router.Context) error {
	payload := new(SignupForm)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("signup parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Signup, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		})
	}

	user, err := a.Signup.Register(ctx.Context(), *payload, nil)
	if err != nil {
		a.Logger.Error("signup register: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message": err.Error(),
		}).Status(fiber.StatusUnprocessableEntity).Render(a.Views.Signup, router.ViewContext{
			"record":     payload,
			"validation": validationMeta(err),
		})
	}

	rc := a.request(ctx)
	if _, err := a.Resolver.Login(ctx.Context(), rc, user, false); err != nil {
		a.Logger.Error("post signup login: %v", err)
	}
	a.flush(rc)

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Welcome! Please check your email to confirm your address",
	}).Redirect("/", fiber.StatusSeeOther)
}

func (a *AuthController) PasswordResetShow(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordReset, router.ViewContext{
		"errors": nil,
		"record": nil,
	})
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

func (a *AuthController) PasswordResetPost(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password reset parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.PasswordReset, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"error_message": "Invalid email address",
		}).Render(a.Views.PasswordReset, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	// Requesting a reset terminates the requester's own browser state
	// before any sessions are revoked server side.
	rc := a.request(ctx)
	if err := a.Resolver.Logout(ctx.Context(), rc); err != nil {
		a.Logger.Error("pre reset logout: %v", err)
	}

	if err := a.Reset.RequestReset(ctx.Context(), payload.Email); err != nil {
		a.flush(rc)
		a.Logger.Error("password reset request: %v", err)
		return a.ErrorHandler(ctx, err)
	}
	a.flush(rc)

	// Same message whether or not the identifier matched an account.
	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "We've sent an email which can be used to change your password",
	}).Redirect(a.Routes.Login, fiber.StatusSeeOther)
}

func (a *AuthController) PasswordChangeShow(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordChange, router.ViewContext{
		"errors": nil,
		"email":  ctx.Query("email", ""),
		"token":  ctx.Query("token", ""),
	})
}

// PasswordChangePayload carries the reset completion form.
type PasswordChangePayload struct {
	Email           string `form:"email" json:"email"`
	Token           string `form:"token" json:"token"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"password_confirmation" json:"password_confirmation"`
}

// Validate will validate the payload
func (r PasswordChangePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) PasswordChangePost(ctx router.Context) error {
	payload := new(PasswordChangePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password change parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.PasswordChange, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.PasswordChange, router.ViewContext{
			"validation": FormatValidationErrorToMap(err),
			"email":      payload.Email,
			"token":      payload.Token,
		})
	}

	// Any existing login is dropped to prevent session leakage onto the
	// account being recovered.
	rc := a.request(ctx)
	if err := a.Resolver.Logout(ctx.Context(), rc); err != nil {
		a.Logger.Error("pre change logout: %v", err)
	}

	_, err := a.Reset.CompleteReset(ctx.Context(), payload.Email, payload.Token, payload.Password, payload.ConfirmPassword)
	if err != nil {
		a.flush(rc)

		if IsValidationError(err) {
			return flash.WithError(ctx, router.ViewContext{
				"error_message": err.Error(),
			}).Status(fiber.StatusUnprocessableEntity).Render(a.Views.PasswordChange, router.ViewContext{
				"validation": validationMeta(err),
				"email":      payload.Email,
				"token":      payload.Token,
			})
		}

		return flash.WithError(ctx, router.ViewContext{
			"error_message": MessageInvalidToken,
		}).Redirect("/", fiber.StatusSeeOther)
	}
	a.flush(rc)

	// Do not automatically log in the user.
	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Password updated successfully",
	}).Redirect(a.Routes.Login, fiber.StatusSeeOther)
}

func (a *AuthController) ConfirmationShow(ctx router.Context) error {
	rc := a.request(ctx)

	user, err := a.Resolver.RequireLogin(ctx.Context(), rc)
	if err != nil {
		a.flush(rc)
		return flash.WithError(ctx, router.ViewContext{
			"error_message": MessageLoginRequired,
		}).Redirect(a.Routes.Login, fiber.StatusSeeOther)
	}

	token := ctx.Query("token", "")
	if err := a.Confirmation.Confirm(ctx.Context(), user, token); err != nil {
		a.flush(rc)

		if IsIntegrityConflict(err) {
			return flash.WithError(ctx, router.ViewContext{
				"error_message": "Could not confirm email address because it is already in use",
			}).Redirect("/", fiber.StatusSeeOther)
		}

		return flash.WithError(ctx, router.ViewContext{
			"error_message": MessageInvalidToken,
		}).Redirect("/", fiber.StatusSeeOther)
	}
	a.flush(rc)

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Thanks for confirming your email address",
	}).Redirect("/", fiber.StatusSeeOther)
}

// validationMeta extracts field errors from a rich validation error so
// forms can re-render with per field messages.
func validationMeta(err error) map[string]any {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && len(richErr.Metadata) > 0 {
		return richErr.Metadata
	}
	return map[string]any{"base": err.Error()}
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
