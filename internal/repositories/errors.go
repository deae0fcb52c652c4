package repositories

import (
	"errors"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation   = "23505"
	pqInvalidTextSyntax = "22P02"
)

func hasPQCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// isMalformedID reports whether postgres rejected an id that is not a valid uuid.
// Such an id can never match a row, so callers treat it as not found.
func isMalformedID(err error) bool {
	return hasPQCode(err, pqInvalidTextSyntax)
}
