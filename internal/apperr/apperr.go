// Package apperr holds the error kinds shared by the simulator and calendar
// services. Callers wrap them with context and match with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidRoute    = errors.New("invalid route")
	ErrInvalidDateRule = errors.New("invalid date rule")
	ErrUnsupportedRule = errors.New("unsupported rule")
	ErrInvalidArgument = errors.New("invalid argument")
)

// HTTPStatus maps an error to the status code the control surface answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRoute),
		errors.Is(err, ErrInvalidDateRule),
		errors.Is(err, ErrUnsupportedRule),
		errors.Is(err, ErrInvalidArgument):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
