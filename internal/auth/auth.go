// Package auth implements signup, login and password management on top of
// the users collection, and the middleware that moves a request from
// anonymous to authenticated to authorized. The token is read from the
// Authorization header or from the session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/logger"
	"github.com/patric-chuzhbe/toursapi/internal/models"
)

// Client facing messages of the authentication flow.
const (
	MessageNotLoggedIn       = "You are not logged in! Please log in to get access."
	MessageUserGone          = "The user belonging to this token does no longer exist."
	MessagePasswordChanged   = "User recently changed password! Please log in again."
	MessageForbidden         = "You do not have permission to perform this action"
	MessageMissingLogin      = "Please provide email and password!"
	MessageIncorrectLogin    = "Incorrect email or password"
	MessageNoUserWithEmail   = "There is no user with email address."
	MessageResetEmailFailed  = "There was an error sending the email. Try again later!"
	MessageResetTokenInvalid = "Token is invalid or has expired"
	MessageWrongPassword     = "Your current password is wrong."
)

type userKeeper interface {
	FindOne(ctx context.Context, filter bson.M) (*models.User, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	Create(ctx context.Context, entity *models.User) (*models.User, error)
	FindByIDAndUpdate(ctx context.Context, id primitive.ObjectID, set bson.M) (*models.User, error)
}

type mailer interface {
	SendWelcome(ctx context.Context, to *models.User, url string) error
	SendPasswordReset(ctx context.Context, to *models.User, url string) error
}

// Settings tune the session cookie and the password policy.
type Settings struct {
	CookieName      string
	CookieExpiresIn time.Duration
	BcryptCost      int
	ResetTTL        time.Duration

	// PublicBaseURL prefixes the links sent by email. When empty the links
	// are built from the request.
	PublicBaseURL string
}

// SignupInput is the body accepted by Signup. Any other field, the role
// included, is ignored.
type SignupInput struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// LoginInput is the body accepted by Login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordInput is a new password with its confirmation.
type PasswordInput struct {
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// UpdatePasswordInput additionally carries the password being replaced.
type UpdatePasswordInput struct {
	PasswordCurrent string `json:"passwordCurrent"`
	PasswordInput
}

// Auth handles user authentication and token management.
type Auth struct {
	users    userKeeper
	tokens   *TokenService
	mail     mailer
	validate *validator.Validate
	settings Settings
	now      func() time.Time
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// UserKey is the context key of the authenticated user.
const UserKey ContextKey = "user"

// New creates the authentication service.
func New(users userKeeper, tokens *TokenService, mail mailer, settings Settings) *Auth {
	if settings.CookieName == "" {
		settings.CookieName = "jwt"
	}
	return &Auth{
		users:    users,
		tokens:   tokens,
		mail:     mail,
		validate: models.NewValidator(),
		settings: settings,
		now:      time.Now,
	}
}

// CurrentUser returns the user attached by Protect.
func CurrentUser(ctx context.Context) (*models.User, bool) {
	usr, ok := ctx.Value(UserKey).(*models.User)
	return usr, ok && usr != nil
}

// WithUser attaches usr to ctx.
func WithUser(ctx context.Context, usr *models.User) context.Context {
	return context.WithValue(ctx, UserKey, usr)
}

// Signup creates an account with the user role.
func (a *Auth) Signup(ctx context.Context, input SignupInput) (*models.User, error) {
	input.Email = normalizeEmail(input.Email)
	if err := a.validate.Struct(input); err != nil {
		return nil, err
	}

	hash, err := HashPassword(input.Password, a.settings.BcryptCost)
	if err != nil {
		return nil, err
	}

	usr := &models.User{}
	usr.SetDefaults(a.now().UTC())
	usr.Name = strings.TrimSpace(input.Name)
	usr.Email = input.Email
	usr.Password = hash

	if err := a.validate.Struct(usr); err != nil {
		return nil, err
	}

	created, err := a.users.Create(ctx, usr)
	if err != nil {
		return nil, fmt.Errorf("in internal/auth/auth.go/Signup(): error while `a.users.Create()` calling: %w", err)
	}

	return created, nil
}

// Welcome sends the greeting email. Failures are logged only.
func (a *Auth) Welcome(ctx context.Context, usr *models.User, url string) {
	if err := a.mail.SendWelcome(ctx, usr, url); err != nil {
		logger.Log.Errorln("Error calling the `a.mail.SendWelcome()`:", err)
	}
}

// Login checks the credentials of an active account.
func (a *Auth) Login(ctx context.Context, input LoginInput) (*models.User, error) {
	if input.Email == "" || input.Password == "" {
		return nil, apperr.Validation(MessageMissingLogin)
	}

	usr, err := a.users.FindOne(ctx, bson.M{"email": normalizeEmail(input.Email)})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Unauthorized(MessageIncorrectLogin)
	}
	if err != nil {
		return nil, fmt.Errorf("in internal/auth/auth.go/Login(): error while `a.users.FindOne()` calling: %w", err)
	}

	if !CorrectPassword(usr.Password, input.Password) {
		return nil, apperr.Unauthorized(MessageIncorrectLogin)
	}

	return usr, nil
}

// Authenticate resolves the user a token was issued to. A token issued
// before the last password change is rejected.
func (a *Auth) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, apperr.Unauthorized(MessageNotLoggedIn)
	}

	claims, err := a.tokens.Parse(tokenString)
	if err != nil {
		return nil, err
	}

	id, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, apperr.Unauthorized(MessageUserGone)
	}

	usr, err := a.users.FindByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Unauthorized(MessageUserGone)
	}
	if err != nil {
		return nil, fmt.Errorf("in internal/auth/auth.go/Authenticate(): error while `a.users.FindByID()` calling: %w", err)
	}

	if claims.IssuedAt != nil && usr.ChangedPasswordAfter(claims.IssuedAt.Time) {
		return nil, apperr.Unauthorized(MessagePasswordChanged)
	}

	return usr, nil
}

// Authorize checks that usr has one of roles.
func Authorize(usr *models.User, roles ...string) error {
	if usr == nil {
		return apperr.Unauthorized(MessageNotLoggedIn)
	}
	for _, role := range roles {
		if usr.Role == role {
			return nil
		}
	}
	return apperr.Forbidden(MessageForbidden)
}

// ForgotPassword stores a reset token for the account and emails the link
// built by resetURL. The token is removed again when the email cannot be sent.
func (a *Auth) ForgotPassword(ctx context.Context, email string, resetURL func(token string) string) error {
	usr, err := a.users.FindOne(ctx, bson.M{"email": normalizeEmail(email)})
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(MessageNoUserWithEmail)
	}
	if err != nil {
		return fmt.Errorf("in internal/auth/auth.go/ForgotPassword(): error while `a.users.FindOne()` calling: %w", err)
	}

	token, hashed, err := NewResetToken()
	if err != nil {
		return err
	}

	expires := a.now().Add(a.settings.ResetTTL).UTC()
	usr, err = a.users.FindByIDAndUpdate(ctx, usr.ID, bson.M{
		"passwordResetToken":   hashed,
		"passwordResetExpires": expires,
	})
	if err != nil {
		return fmt.Errorf("in internal/auth/auth.go/ForgotPassword(): error while `a.users.FindByIDAndUpdate()` calling: %w", err)
	}

	if err := a.mail.SendPasswordReset(ctx, usr, resetURL(token)); err != nil {
		logger.Log.Errorln("Error calling the `a.mail.SendPasswordReset()`:", err)

		_, rollbackErr := a.users.FindByIDAndUpdate(ctx, usr.ID, bson.M{
			"passwordResetToken":   nil,
			"passwordResetExpires": nil,
		})
		if rollbackErr != nil {
			logger.Log.Errorln("Error calling the `a.users.FindByIDAndUpdate()`:", rollbackErr)
		}

		return apperr.Operational(http.StatusInternalServerError, MessageResetEmailFailed)
	}

	return nil
}

// ResetPassword replaces the password of the account holding the unexpired
// reset token. Two concurrent resets with the same token can both succeed.
func (a *Auth) ResetPassword(ctx context.Context, token string, input PasswordInput) (*models.User, error) {
	usr, err := a.users.FindOne(ctx, bson.M{
		"passwordResetToken":   HashResetToken(token),
		"passwordResetExpires": bson.M{"$gt": a.now().UTC()},
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Validation(MessageResetTokenInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("in internal/auth/auth.go/ResetPassword(): error while `a.users.FindOne()` calling: %w", err)
	}

	set, err := a.passwordUpdate(input)
	if err != nil {
		return nil, err
	}
	set["passwordResetToken"] = nil
	set["passwordResetExpires"] = nil

	updated, err := a.users.FindByIDAndUpdate(ctx, usr.ID, set)
	if err != nil {
		return nil, fmt.Errorf("in internal/auth/auth.go/ResetPassword(): error while `a.users.FindByIDAndUpdate()` calling: %w", err)
	}

	return updated, nil
}

// UpdatePassword replaces the password of usr after checking the current one.
func (a *Auth) UpdatePassword(ctx context.Context, usr *models.User, input UpdatePasswordInput) (*models.User, error) {
	stored, err := a.users.FindByID(ctx, usr.ID)
	if err != nil {
		return nil, fmt.Errorf("in internal/auth/auth.go/UpdatePassword(): error while `a.users.FindByID()` calling: %w", err)
	}

	if !CorrectPassword(stored.Password, input.PasswordCurrent) {
		return nil, apperr.Unauthorized(MessageWrongPassword)
	}

	set, err := a.passwordUpdate(input.PasswordInput)
	if err != nil {
		return nil, err
	}

	updated, err := a.users.FindByIDAndUpdate(ctx, stored.ID, set)
	if err != nil {
		return nil, fmt.Errorf("in internal/auth/auth.go/UpdatePassword(): error while `a.users.FindByIDAndUpdate()` calling: %w", err)
	}

	return updated, nil
}

// passwordUpdate validates input and returns the fields storing it. The
// change is dated one second back so a token issued right after it is valid.
func (a *Auth) passwordUpdate(input PasswordInput) (bson.M, error) {
	if err := a.validate.Struct(input); err != nil {
		return nil, err
	}

	hash, err := HashPassword(input.Password, a.settings.BcryptCost)
	if err != nil {
		return nil, err
	}

	return bson.M{
		"password":          hash,
		"passwordChangedAt": a.now().Add(-time.Second).UTC(),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
