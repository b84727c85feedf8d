package common

import "errors"

var (
	ErrClosed       = errors.New("service is shut down")
	ErrInvalidInput = errors.New("invalid input")
)
