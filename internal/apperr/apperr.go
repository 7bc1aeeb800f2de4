// Package apperr defines the error taxonomy of the API and classifies errors
// raised by storage, token parsing and validation into it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"

	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/query"
)

// Kind classifies an error.
type Kind int

// Error kinds.
const (
	KindProgramming Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindOperational
)

// GenericMessage replaces the message of programming errors in production.
const GenericMessage = "Something went very wrong!"

// Error is an error carrying the HTTP status and the client facing message.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindProgramming {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsOperational reports whether the message is safe to show to clients.
func (e *Error) IsOperational() bool {
	return e.Kind != KindProgramming
}

// Status is "fail" for client errors and "error" otherwise.
func (e *Error) Status() string {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return "fail"
	}
	return "error"
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, StatusCode: http.StatusBadRequest, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, StatusCode: http.StatusNotFound, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, StatusCode: http.StatusUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, StatusCode: http.StatusForbidden, Message: message}
}

// Operational is an expected failure with its own status.
func Operational(statusCode int, message string) *Error {
	return &Error{Kind: KindOperational, StatusCode: statusCode, Message: message}
}

// Programming wraps an unexpected error.
func Programming(err error) *Error {
	return &Error{
		Kind:       KindProgramming,
		StatusCode: http.StatusInternalServerError,
		Message:    err.Error(),
		Err:        err,
	}
}

// From classifies err. Errors already in the taxonomy are returned as is.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var duplicate *storage.DuplicateKeyError
	if errors.As(err, &duplicate) {
		return withCause(
			Validation(fmt.Sprintf("Duplicate field value: %v. Please use another value!", duplicate.Value)),
			err,
		)
	}
	if errors.Is(err, storage.ErrDuplicateKey) {
		return withCause(Validation("Duplicate field value. Please use another value!"), err)
	}

	var invalidID *storage.InvalidIDError
	if errors.As(err, &invalidID) {
		return withCause(Validation(fmt.Sprintf("Invalid _id: %s.", invalidID.Value)), err)
	}

	if errors.Is(err, storage.ErrNotFound) {
		return withCause(NotFound("No document found with that ID"), err)
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return withCause(Validation(validationMessage(validationErrs)), err)
	}

	var queryErr *query.Error
	if errors.As(err, &queryErr) {
		return withCause(Validation(queryErr.Message), err)
	}

	var tokenErr *jwt.ValidationError
	if errors.As(err, &tokenErr) {
		if tokenErr.Errors&jwt.ValidationErrorExpired != 0 {
			return withCause(Unauthorized("Your token has expired! Please log in again."), err)
		}
		return withCause(Unauthorized("Invalid token. Please log in again!"), err)
	}

	return Programming(err)
}

func withCause(appErr *Error, cause error) *Error {
	appErr.Err = cause
	return appErr
}

func validationMessage(validationErrs validator.ValidationErrors) string {
	messages := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		messages = append(messages, fieldMessage(fieldErr))
	}
	return "Invalid input data. " + strings.Join(messages, ". ")
}

func fieldMessage(fieldErr validator.FieldError) string {
	field := fieldErr.Field()

	switch fieldErr.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return "Please provide a valid email"
	case "min":
		return fmt.Sprintf("%s must have at least %s characters", field, fieldErr.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s characters", field, fieldErr.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fieldErr.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fieldErr.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fieldErr.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fieldErr.Param())
	case "belowprice":
		return fmt.Sprintf("Discount price (%v) should be below regular price", fieldErr.Value())
	case "eqfield":
		return "Passwords are not the same!"
	}

	return fmt.Sprintf("%s is invalid", field)
}
