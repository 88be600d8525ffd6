package anthropic

import (
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

// StatusCode returns the HTTP status of an API error, or 0 when err did not
// come from an API response.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if StatusCode(err) == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(err.Error(), "rate_limit_error")
}

// IsOverloaded reports whether the API rejected the call as overloaded.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	return StatusCode(err) == 529 || strings.Contains(err.Error(), "overloaded_error")
}
