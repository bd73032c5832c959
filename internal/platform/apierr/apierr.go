package apierr

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/httpx"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError classifies service errors into an HTTP status and error code.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return New(http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, apperrors.ErrUnauthorized):
		return New(http.StatusUnauthorized, "unauthorized", err)
	case errors.Is(err, apperrors.ErrNotFound):
		return New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, apperrors.ErrSyncInProgress):
		return New(http.StatusConflict, "sync_in_progress", err)
	case errors.Is(err, apperrors.ErrSyncLeaseLost):
		return New(http.StatusConflict, "sync_lease_lost", err)
	case errors.Is(err, apperrors.ErrMissingConfig):
		return New(http.StatusServiceUnavailable, "missing_configuration", err)
	case errors.Is(err, apperrors.ErrSearchUnavailable):
		return New(http.StatusServiceUnavailable, "search_unavailable", err)
	case isUpstream(err):
		return New(http.StatusBadGateway, "upstream_failure", err)
	default:
		return New(http.StatusInternalServerError, "internal", err)
	}
}

// isUpstream reports failures of a remote API: a non-2xx response or a
// transport error.
func isUpstream(err error) bool {
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
