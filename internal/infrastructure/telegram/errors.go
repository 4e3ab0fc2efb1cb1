package telegram

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// APIError is a Bot API response with "ok": false.
type APIError struct {
	Method      string
	Code        int
	Description string

	// StatusCode is the HTTP status of the response.
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s (HTTP %d)", e.Method, e.Code, e.Description, e.StatusCode)
}

// IsAPIError reports whether err is an APIError with the given error code.
func IsAPIError(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
