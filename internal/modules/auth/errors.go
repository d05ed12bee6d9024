package auth

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateAccount   = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound and ErrWrongPassword are told apart in logs only;
	// both match ErrInvalidCredentials.
	ErrUserNotFound        = fmt.Errorf("%w: user not found", ErrInvalidCredentials)
	ErrWrongPassword       = fmt.Errorf("%w: wrong password", ErrInvalidCredentials)
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
)
