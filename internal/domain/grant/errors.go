package grant

import "errors"

var (
	// ErrSchemaUnavailable means no candidate relation could serve the call.
	ErrSchemaUnavailable = errors.New("no usable grant relation")
	ErrStoreFailure      = errors.New("grant store failure")
	ErrInvalidGrant      = errors.New("operator and athlete ids are required")
)
