package models

import "errors"

// Error kinds shared by the store, services and the HTTP layer.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrValidation      = errors.New("validation failed")
	ErrBlocked         = errors.New("identity blocked")
	ErrConflict        = errors.New("conflict")
)
