package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lib/pq"

	"github.com/maraffa-online/maraffa-server/internal/game"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewConflictError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    message,
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

// NewGameError translates a coordinator failure into the HTTP error
// the REST surface reports for it.
func NewGameError(err error) *ApiError {
	var gerr *game.GameError
	if !errors.As(err, &gerr) {
		return NewInternalServerError(err)
	}

	var status int
	switch gerr.Code {
	case game.CodeRoomNotFound:
		status = http.StatusNotFound
	case game.CodeWrongJoinCode:
		status = http.StatusForbidden
	case game.CodeCapacityExceeded, game.CodeAlreadyMember, game.CodeAlreadyStarted:
		status = http.StatusConflict
	case game.CodeUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	return &ApiError{
		StatusCode: status,
		Message:    gerr.Message,
		Code:       string(gerr.Code),
		Err:        gerr.Err,
	}
}
