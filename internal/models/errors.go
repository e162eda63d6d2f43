package models

import "errors"

// Errors shared between the store and its callers.
var (
	ErrUnknownToken       = errors.New("unknown or expired token")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPostNotFound       = errors.New("post not found")
)
