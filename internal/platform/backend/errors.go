package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	// ErrUnauthorized means the backend refused the credential, or no
	// credential was available to send.
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrNotFound     = errors.New("backend: not found")
	// ErrForbidden is returned by views when the caller may not act on a
	// record the backend did return.
	ErrForbidden = errors.New("forbidden")
	// ErrUnavailable wraps transport failures and gateway errors.
	ErrUnavailable = errors.New("backend: unavailable")
)

// APIError is any other non-2xx response. Detail comes from the body's
// detail field when present.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend: status %d", e.Status)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Detail)
}

// InvalidError is input a view refused before calling the backend.
type InvalidError struct {
	Message string
}

func (e *InvalidError) Error() string { return e.Message }

// Invalid returns an *InvalidError with a formatted message.
func Invalid(format string, args ...any) error {
	return &InvalidError{Message: fmt.Sprintf(format, args...)}
}

// HTTPError maps a client error to the status a portal handler should
// answer with.
func HTTPError(err error) error {
	var (
		apiErr     *APIError
		invalidErr *InvalidError
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "Your session is no longer valid. Please sign in again.")
	case errors.As(err, &invalidErr):
		return echo.NewHTTPError(http.StatusBadRequest, invalidErr.Message)
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "You do not have access to this record.")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Not found.")
	case errors.Is(err, ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "The hospital service is unreachable. Please try again.").SetInternal(err)
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status >= 500 {
			status = http.StatusBadGateway
		}
		msg := apiErr.Detail
		if msg == "" {
			msg = http.StatusText(apiErr.Status)
		}
		return echo.NewHTTPError(status, msg)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Something went wrong.").SetInternal(err)
	}
}
