package pricing

import "errors"

var (
	ErrNoActivePrice = errors.New("no active tariff")
	ErrInvalidPrice  = errors.New("tariff cost must be a positive number")
	ErrInternal      = errors.New("internal error")
)
