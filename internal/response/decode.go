package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
)

// DecodeJSON reads the request body into dst. Malformed bodies and bodies
// over the size limit become client errors.
func DecodeJSON(r *http.Request, dst interface{}) error {
	body, err := ReadBody(r)
	if err != nil {
		return err
	}
	return UnmarshalBody(body, dst)
}

// ReadBody reads the whole request body.
func ReadBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Operational(
				http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body is larger than %d bytes", tooLarge.Limit),
			)
		}
		return nil, fmt.Errorf("in internal/response/decode.go/ReadBody(): error while `io.ReadAll()` calling: %w", err)
	}
	return body, nil
}

// UnmarshalBody decodes a JSON body already read from the request.
func UnmarshalBody(body []byte, dst interface{}) error {
	if len(body) == 0 {
		return apperr.Validation("Request body is empty")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Validation(fmt.Sprintf("Invalid JSON body: %v", err))
	}
	return nil
}
