package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the gateway, the session holder and the dashboard.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTransport          = errors.New("transport failure")
	ErrValidation         = errors.New("validation failed")
	ErrNoSession          = errors.New("no active session")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

var (
	ErrEmptyAmount       = fmt.Errorf("%w: amount is required", ErrValidation)
	ErrInvalidAmount     = fmt.Errorf("%w: amount is not a number", ErrValidation)
	ErrMissingDate       = fmt.Errorf("%w: date is required", ErrValidation)
	ErrInvalidDate       = fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	ErrInvalidCategory   = fmt.Errorf("%w: category is not a valid id", ErrValidation)
	ErrEmptyCategoryName = fmt.Errorf("%w: category name is required", ErrValidation)
	ErrEmptyEmail        = fmt.Errorf("%w: email is required", ErrValidation)
	ErrEmptyPassword     = fmt.Errorf("%w: password is required", ErrValidation)
)
