package app

import (
	"errors"
	"fmt"
	"net/http"

	"doubtdesk/bot/internal/dispatch"
)

// DomainError carries the HTTP status and code an error maps to.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errNoIdentity = domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "event has no identity", nil)

// dispatchError maps dispatcher refusals to 503 so the update is redelivered.
func dispatchError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dispatch.ErrQueueFull):
		return domainError(http.StatusServiceUnavailable, "BUSY", "Too many pending events for this chat", nil)
	case errors.Is(err, dispatch.ErrClosed):
		return domainError(http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
	default:
		return err
	}
}
