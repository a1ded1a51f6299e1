package rotation

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrorClass groups provider failures by what the coordinator does next.
type ErrorClass string

const (
	// ErrorClassRateLimit puts the key into cooldown (429, quota).
	ErrorClassRateLimit ErrorClass = "RATE_LIMIT"

	// ErrorClassAuth is a rejected credential (401, 403).
	ErrorClassAuth ErrorClass = "AUTH"

	ErrorClassTimeout ErrorClass = "TIMEOUT"

	// ErrorClassBilling is an exhausted balance (402).
	ErrorClassBilling ErrorClass = "BILLING"

	ErrorClassUnknown ErrorClass = "UNKNOWN"
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

var statusClasses = map[int]ErrorClass{
	http.StatusTooManyRequests: ErrorClassRateLimit,
	http.StatusUnauthorized:    ErrorClassAuth,
	http.StatusForbidden:       ErrorClassAuth,
	http.StatusPaymentRequired: ErrorClassBilling,
	http.StatusRequestTimeout:  ErrorClassTimeout,
	http.StatusGatewayTimeout:  ErrorClassTimeout,
}

// messageClasses is consulted in order when no status is available.
var messageClasses = []struct {
	class     ErrorClass
	fragments []string
}{
	{ErrorClassRateLimit, []string{"429", "rate limit", "rate_limit", "ratelimit", "quota", "too many requests"}},
	{ErrorClassAuth, []string{"401", "403", "unauthorized", "forbidden", "invalid key", "invalid api key"}},
	{ErrorClassTimeout, []string{"deadline exceeded", "timeout", "timed out"}},
	{ErrorClassBilling, []string{"billing", "payment", "insufficient credits", "insufficient funds"}},
}

// ClassifyError categorizes a provider error. A carried HTTP status wins
// over message heuristics.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		if class, ok := statusClasses[sc.HTTPStatus()]; ok {
			return class
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, mc := range messageClasses {
		for _, f := range mc.fragments {
			if strings.Contains(msg, f) {
				return mc.class
			}
		}
	}
	return ErrorClassUnknown
}

// IsRateLimit reports whether err should put the key into cooldown and move
// on to the next one.
func IsRateLimit(err error) bool {
	return ClassifyError(err) == ErrorClassRateLimit
}
