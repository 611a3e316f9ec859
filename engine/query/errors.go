package query

import (
	"errors"
	"fmt"
)

// ErrQueryFailed matches every error delivered for a failed session.
var ErrQueryFailed = errors.New("query failed")

// QueryError reports a store failure that terminated a session.
type QueryError struct {
	Cause error
	// Pages is the number of page fetches attempted, including the failing one.
	Pages int
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query: page %d: %v", e.Pages, e.Cause)
}

func (e *QueryError) Unwrap() []error { return []error{ErrQueryFailed, e.Cause} }
