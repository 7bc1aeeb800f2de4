package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/response"
)

// LoggedOutCookieValue replaces the token on logout.
const LoggedOutCookieValue = "loggedout"

// HandleSignup creates the account and logs it in.
func (a *Auth) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var input SignupInput
	if err := response.DecodeJSON(r, &input); err != nil {
		response.Error(w, r, err)
		return
	}

	usr, err := a.Signup(r.Context(), input)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	a.Welcome(r.Context(), usr, response.BaseURL(r, a.settings.PublicBaseURL)+"/me")

	a.sendToken(w, r, http.StatusCreated, usr)
}

// HandleLogin checks the credentials and issues a token.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var input LoginInput
	if err := response.DecodeJSON(r, &input); err != nil {
		response.Error(w, r, err)
		return
	}

	usr, err := a.Login(r.Context(), input)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	a.sendToken(w, r, http.StatusOK, usr)
}

// HandleLogout overwrites the session cookie with an expired placeholder.
func (a *Auth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.settings.CookieName,
		Value:    LoggedOutCookieValue,
		Path:     "/",
		Expires:  a.now().Add(-time.Second),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   response.IsSecure(r),
	})

	response.JSON(w, http.StatusOK, response.Envelope{Status: response.StatusSuccess})
}

// HandleForgotPassword emails a password reset link.
func (a *Auth) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
	}
	if err := response.DecodeJSON(r, &input); err != nil {
		response.Error(w, r, err)
		return
	}

	base := response.BaseURL(r, a.settings.PublicBaseURL)
	err := a.ForgotPassword(r.Context(), input.Email, func(token string) string {
		return base + "/api/v1/users/resetPassword/" + token
	})
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.Message(w, http.StatusOK, "Token sent to email!")
}

// HandleResetPassword sets a new password using the emailed token and logs
// the user in.
func (a *Auth) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var input PasswordInput
	if err := response.DecodeJSON(r, &input); err != nil {
		response.Error(w, r, err)
		return
	}

	usr, err := a.ResetPassword(r.Context(), chi.URLParam(r, "token"), input)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	a.sendToken(w, r, http.StatusOK, usr)
}

// HandleUpdatePassword changes the password of the logged in user.
func (a *Auth) HandleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	usr, ok := CurrentUser(r.Context())
	if !ok {
		response.Error(w, r, apperr.Unauthorized(MessageNotLoggedIn))
		return
	}

	var input UpdatePasswordInput
	if err := response.DecodeJSON(r, &input); err != nil {
		response.Error(w, r, err)
		return
	}

	updated, err := a.UpdatePassword(r.Context(), usr, input)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	a.sendToken(w, r, http.StatusOK, updated)
}

func (a *Auth) sendToken(w http.ResponseWriter, r *http.Request, statusCode int, usr *models.User) {
	token, err := a.tokens.Sign(usr.ID.Hex())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     a.settings.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  a.now().Add(a.settings.CookieExpiresIn),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   response.IsSecure(r),
	})

	response.JSON(w, statusCode, response.Envelope{
		Status: response.StatusSuccess,
		Token:  token,
		Data:   map[string]interface{}{"user": usr},
	})
}
