package service

import (
	"errors"
	"strings"
)

var (
	// ErrAuthenticationRequired covers every way a request can lack a valid
	// session: never logged in, expired, or a bad signature. The causes are
	// deliberately indistinguishable to the caller.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrInvalidCredentials is returned for both unknown email and wrong
	// password. The two causes must not be observable externally.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked deliberately omits the unlock time.
	ErrAccountLocked = errors.New("account temporarily locked, try again later")

	// ErrPermissionDenied is always preceded by an UNAUTHORIZED_ACCESS audit
	// entry before it propagates.
	ErrPermissionDenied = errors.New("insufficient permissions")

	ErrMFAInvalid    = errors.New("invalid verification code")
	ErrMFANotEnabled = errors.New("multi-factor authentication is not enabled")

	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email is already registered")
	ErrRoleInvalid  = errors.New("invalid role")
	ErrDataNotFound = errors.New("no data stored under this key")
)

type WeakPasswordError struct {
	Missing []string
}

func (e *WeakPasswordError) Error() string {
	return "password too weak: " + strings.Join(e.Missing, "; ")
}
