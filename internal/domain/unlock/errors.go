package unlock

import "errors"

var (
	ErrValidation          = errors.New("operator and athlete ids are required")
	ErrPricingUnavailable  = errors.New("pricing unavailable")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnlockInProgress    = errors.New("unlock already in progress")
	ErrStoreFailure        = errors.New("unlock store failure")
	ErrLockHeld            = errors.New("lock held")
)
