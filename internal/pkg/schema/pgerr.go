package schema

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes the unlock path reasons about.
const (
	codeUndefinedTable     = "42P01"
	codeUndefinedColumn    = "42703"
	codeUniqueViolation    = "23505"
	codeCheckViolation     = "23514"
	codeInvalidTextRepr    = "22P02"
	codeFeatureUnsupported = "0A000"
	codeWrongObjectType    = "42809"
	codeInsufficientPriv   = "42501"
	codeObjectNotInState   = "55000"
)

func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsUndefinedTable reports a missing relation.
func IsUndefinedTable(err error) bool { return sqlState(err) == codeUndefinedTable }

// IsUndefinedColumn reports a missing column.
func IsUndefinedColumn(err error) bool { return sqlState(err) == codeUndefinedColumn }

// IsSchemaMismatch reports an error caused by the physical shape rather than the data.
func IsSchemaMismatch(err error) bool {
	switch sqlState(err) {
	case codeUndefinedTable, codeUndefinedColumn:
		return true
	}
	return false
}

// IsUniqueViolation reports a duplicate key.
func IsUniqueViolation(err error) bool { return sqlState(err) == codeUniqueViolation }

// IsRejectedValue reports an enum or CHECK rejection of a written value.
func IsRejectedValue(err error) bool {
	switch sqlState(err) {
	case codeInvalidTextRepr, codeCheckViolation:
		return true
	}
	return false
}

// IsNotWritable reports a write refused because the relation is a view,
// not updatable, or not granted to the current role.
func IsNotWritable(err error) bool {
	switch sqlState(err) {
	case codeFeatureUnsupported, codeWrongObjectType, codeInsufficientPriv, codeObjectNotInState:
		return true
	}
	return false
}
