package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
//
// The validation sentinels all wrap ErrInvalidInput so callers can match the
// whole class with a single errors.Is check.
var (
	ErrInvalidInput = errors.New("invalid input")

	ErrInvalidRecipient = fmt.Errorf("%w: recipient must not be empty", ErrInvalidInput)
	ErrInvalidType      = fmt.Errorf("%w: unknown notification type", ErrInvalidInput)
	ErrInvalidPriority  = fmt.Errorf("%w: priority must be LOW, MEDIUM, HIGH, or URGENT", ErrInvalidInput)
	ErrInvalidTitle     = fmt.Errorf("%w: title must be between 1 and 256 characters", ErrInvalidInput)
	ErrInvalidMessage   = fmt.Errorf("%w: message must not exceed 4096 characters", ErrInvalidInput)

	ErrNotFound                = errors.New("not found")
	ErrRateLimited             = errors.New("rate limit exceeded for recipient")
	ErrConnectionLimitExceeded = errors.New("connection limit exceeded for recipient")
	ErrEncryptionFailed        = errors.New("payload encryption failed")
	ErrUnauthorized            = errors.New("authentication failed")
)
