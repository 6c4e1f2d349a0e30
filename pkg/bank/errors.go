package bank

import "errors"

var (
	// ErrUsernameTaken is returned when registering a username that already exists at this bank
	ErrUsernameTaken = errors.New("username already registered")

	// ErrWrongBank is returned when a login names a different bank than this node
	ErrWrongBank = errors.New("invalid bank name")

	// ErrInvalidCredentials is returned when username or password is incorrect
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountNotFound is returned when an account number is unknown
	ErrAccountNotFound = errors.New("account not found")

	// ErrUnauthorized is returned when a session key does not match the account's key
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidAmount is returned when an initial deposit is negative
	ErrInvalidAmount = errors.New("amount must not be negative")
)
