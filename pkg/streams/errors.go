package streams

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ZentaChain/zentalk-streams/pkg/control"
)

var (
	ErrStreamNotFound   = errors.New("stream not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// HTTPError is a non-2xx answer of the core API
type HTTPError struct {
	Status int
	Method string
	URL    string
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d", e.Method, e.URL, e.Status)
}

// Is maps 404 to ErrStreamNotFound and 401/403 to ErrPermissionDenied
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrStreamNotFound:
		return e.Status == http.StatusNotFound
	case ErrPermissionDenied:
		return e.Status == http.StatusForbidden || e.Status == http.StatusUnauthorized
	}
	return false
}

// ErrorCode classifies err for an ErrorResponse sent back to a client
func ErrorCode(err error) control.ErrorCode {
	switch {
	case errors.Is(err, ErrStreamNotFound):
		return control.ErrorCodeNotFound
	case errors.Is(err, ErrPermissionDenied):
		return control.ErrorCodePermissionDenied
	default:
		return control.ErrorCodeUnknown
	}
}
