package wallet

import "errors"

var (
	ErrInvalidAmount       = errors.New("invalid amount: must be greater than 0")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrKindRejected        = errors.New("no transaction kind accepted by store")
	ErrReferenceConflict   = errors.New("tx_ref already used with a different amount")
	ErrTransactionNotFound = errors.New("wallet transaction not found")
	ErrInvalidOperator     = errors.New("operator id is required")
	ErrInternal            = errors.New("internal error")
)
