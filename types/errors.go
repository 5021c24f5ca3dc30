package types

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrHandlerNotFound   = errors.New("handler not found")
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
)
