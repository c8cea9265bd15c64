package trade

import "errors"

var (
	// ErrNotFound indicates an unknown trade, item or user identifier.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorized indicates the acting user is not the party allowed
	// to perform the step.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrValidation indicates malformed or inconsistent input.
	ErrValidation = errors.New("validation failed")

	// ErrIncorrectCredential indicates the supplied password could not
	// unlock the payer's signing secret.
	ErrIncorrectCredential = errors.New("incorrect credential")

	// ErrInvalidState indicates the trade status does not permit the
	// requested step.
	ErrInvalidState = errors.New("invalid trade state")
)
