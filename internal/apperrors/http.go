package apperrors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the status code the API reports: bad
// polling config is 400, an unknown jobId is 404, a duplicate
// registration is 409, anything unrecognized is 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
