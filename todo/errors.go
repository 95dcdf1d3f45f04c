package todo

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("todo not found")
	ErrForbidden          = errors.New("todo belongs to another user")
	ErrConflict           = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
