package trackerr

import (
	"errors"
	"net/http"
)

// HTTPStatus maps err to the status code an HTTP client should see.
// Oversized uploads are reported as 400, not 413.
func HTTPStatus(err error) int {
	var malformed *MalformedInputError
	var outOfRange *OutOfRangeError
	var tooBig *SizeLimitExceededError
	var timeout *ProcessingTimeoutError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &malformed), errors.As(err, &outOfRange), errors.As(err, &tooBig):
		return http.StatusBadRequest
	case errors.As(err, &timeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTripNotFound), errors.Is(err, ErrParentGone):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// UserMessage returns the message safe to show a client for err.
// Internal failures collapse to a generic message; the detail belongs in logs.
func UserMessage(err error) string {
	var malformed *MalformedInputError
	var outOfRange *OutOfRangeError
	var tooBig *SizeLimitExceededError
	var timeout *ProcessingTimeoutError
	switch {
	case errors.As(err, &malformed):
		return malformed.Error()
	case errors.As(err, &outOfRange):
		return outOfRange.Error()
	case errors.As(err, &tooBig):
		return tooBig.Error()
	case errors.As(err, &timeout):
		return timeout.Error()
	case errors.Is(err, ErrConflict):
		return ErrConflict.Error()
	case errors.Is(err, ErrNotReady):
		return ErrNotReady.Error()
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrParentGone):
		return ErrNotFound.Error()
	case errors.Is(err, ErrTripNotFound):
		return ErrTripNotFound.Error()
	}
	return "internal error"
}
