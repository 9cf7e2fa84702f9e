// Package services defines the credential flows: registration, login, profile
// reads and updates, and password changes. This file centralizes the
// service-level error values and types so that handlers can translate them
// into HTTP results consistently.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Credential errors.
var (
	// ErrInvalidCredentials is returned by Login for both an unknown account
	// and a wrong password, so callers cannot tell which.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrWrongPassword is returned by ChangePassword when the current
	// password does not verify.
	ErrWrongPassword = errors.New("current password is incorrect")

	// ErrUserNotFound indicates that the authenticated account no longer
	// exists.
	ErrUserNotFound = errors.New("user not found")
)

// ValidationError reports missing or malformed client input. Field names the
// offending request field using its JSON name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError reports that a unique identifier is already in use.
type ConflictError struct {
	Field string // "username" or "email"
}

func (e *ConflictError) Error() string { return e.Field + " is already taken" }

// StoreError wraps a credential store failure. Its message is safe to log;
// handlers must not return it to clients.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error { return &StoreError{Op: op, Err: err} }
