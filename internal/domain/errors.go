package domain

import "errors"

var (
	ErrInvalidValue   = errors.New("payload is not an integer value")
	ErrUnknownMode    = errors.New("unknown relay mode")
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrStoreOpen      = errors.New("store circuit open")
)
