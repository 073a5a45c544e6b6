package repository

import (
	"errors"

	"github.com/lib/pq"
)

const uniqueViolationCode = "23505"

// isUniqueViolation reports whether the error is a postgres duplicate-key
// failure. Callers treat it as "already created, re-fetch" rather than fatal.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}
