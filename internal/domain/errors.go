package domain

import "github.com/cockroachdb/errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrHoldExpired            = errors.New("hold expired")
	ErrHoldNotFound           = errors.New("hold not found")
	ErrHoldTerminal           = errors.New("hold already terminal")
	ErrInvalidCapacity        = errors.New("invalid capacity")
	ErrInvalidInput           = errors.New("invalid input")
	ErrCorruptRecord          = errors.New("corrupt registration record")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrPaymentProvider        = errors.New("payment provider unavailable")
)
