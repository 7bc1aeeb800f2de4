// Package response writes the JSON envelope every endpoint answers with and
// hosts the single translator of handler errors into HTTP responses.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync/atomic"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
	"github.com/patric-chuzhbe/toursapi/internal/logger"
)

// Envelope statuses.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

var production atomic.Bool

// SetProduction switches error responses between the detailed development
// form and the sanitized production form.
func SetProduction(enabled bool) {
	production.Store(enabled)
}

// Envelope is the body of every successful response.
type Envelope struct {
	Status  string                 `json:"status"`
	Results *int                   `json:"results,omitempty"`
	Token   string                 `json:"token,omitempty"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// ErrorBody is the body of every failed response.
type ErrorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// JSON writes payload with the given status code.
func JSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder(w).Encode()`:", err)
	}
}

// Data writes a success envelope holding value under key.
func Data(w http.ResponseWriter, statusCode int, key string, value interface{}) {
	JSON(w, statusCode, Envelope{
		Status: StatusSuccess,
		Data:   map[string]interface{}{key: value},
	})
}

// List writes a success envelope with the number of results.
func List(w http.ResponseWriter, key string, items interface{}, results int) {
	JSON(w, http.StatusOK, Envelope{
		Status:  StatusSuccess,
		Results: &results,
		Data:    map[string]interface{}{key: items},
	})
}

// Message writes a success envelope with a message and no data.
func Message(w http.ResponseWriter, statusCode int, message string) {
	JSON(w, statusCode, Envelope{Status: StatusSuccess, Message: message})
}

// NoContent answers 204 with an empty body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// PanicError is a recovered handler panic with the stack it happened on.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Error translates err into the uniform failure response.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)

	requestID := middleware.GetReqID(r.Context())
	if appErr.IsOperational() {
		logger.Log.Debugln("request failed", "requestID", requestID, "status", appErr.StatusCode, "error", err)
	} else {
		logger.Log.Errorln("unexpected error", "requestID", requestID, "uri", r.RequestURI, "error", err)
	}

	body := ErrorBody{
		Status:  appErr.Status(),
		Message: appErr.Message,
	}

	if production.Load() {
		if !appErr.IsOperational() {
			body.Message = apperr.GenericMessage
		}
		JSON(w, appErr.StatusCode, body)
		return
	}

	body.Error = err.Error()
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		body.Stack = string(panicErr.Stack)
	}
	JSON(w, appErr.StatusCode, body)
}

// Recoverer turns handler panics into programming error responses.
func Recoverer(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			Error(w, r, &PanicError{Value: recovered, Stack: debug.Stack()})
		}()

		next.ServeHTTP(w, r)
	}

	return http.HandlerFunc(fn)
}
