package service

import (
	"errors"

	"github.com/dimonss/AccountingForRepairsBackend/internal/utils"
)

// Errors returned by the auth services.  Handlers map each of them onto a
// distinct HTTP status and machine readable code.  Login and refresh keep
// their causes conflated on purpose.
var (
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidOrExpiredToken   = errors.New("invalid or expired refresh token")
	ErrMissingToken            = errors.New("token required")
	ErrPrincipalUnavailable    = errors.New("user not found or inactive")
	ErrAuthenticationRequired  = errors.New("authentication required")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrIncorrectPassword       = errors.New("current password is incorrect")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("username or email already exists")

	ErrTokenExpired   = utils.ErrTokenExpired
	ErrTokenMalformed = utils.ErrTokenMalformed
	ErrWrongTokenType = utils.ErrWrongTokenType
)

// ValidationError reports a malformed request.  Its message is safe to
// show to the client.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func invalid(msg string) error { return &ValidationError{Msg: msg} }
