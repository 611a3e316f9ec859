// Package database defines the record store contract shared by the memory,
// Qdrant and Neo4j backends, plus decorators layered over any of them.
package database

import (
	"context"
	"errors"

	"github.com/WessleyAI/kitchensink/engine/record"
)

var (
	ErrNotFound      = errors.New("database: record not found")
	ErrInvalidCursor = errors.New("database: invalid cursor")
	ErrClosed        = errors.New("database: closed")
)

// DefaultPageSize is the number of records a store returns per page unless
// configured otherwise.
const DefaultPageSize = 50

// Database is a remote record store. Search and Continue satisfy
// query.Store: each is called sequentially, in result order, before the
// method returns, and a zero cursor marks the last page.
type Database interface {
	// Save creates rec or overwrites the stored copy (last write wins). An
	// empty ID is assigned. The returned record carries the stored Version,
	// Created and Modified.
	Save(ctx context.Context, rec record.Record) (record.Record, error)
	Fetch(ctx context.Context, id record.ID) (record.Record, error)
	Delete(ctx context.Context, id record.ID) error
	Search(ctx context.Context, q record.Query, each func(record.Record)) (record.Cursor, error)
	Continue(ctx context.Context, cursor record.Cursor, each func(record.Record)) (record.Cursor, error)
	// RecordTypes lists the distinct types of stored records, sorted.
	RecordTypes(ctx context.Context) ([]string, error)
	Close() error
}

// ChangeKind classifies a record mutation.
type ChangeKind int

const (
	Created ChangeKind = iota + 1
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "creation"
	case Updated:
		return "update"
	case Deleted:
		return "deletion"
	default:
		return "unknown"
	}
}

// ParseChangeKind is the inverse of ChangeKind.String.
func ParseChangeKind(s string) (ChangeKind, bool) {
	for k := Created; k <= Deleted; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

func (k ChangeKind) MarshalText() ([]byte, error) {
	if k < Created || k > Deleted {
		return nil, record.NewValidationError("change", k.String(), record.ErrInvalidValue)
	}
	return []byte(k.String()), nil
}

func (k *ChangeKind) UnmarshalText(b []byte) error {
	parsed, ok := ParseChangeKind(string(b))
	if !ok {
		return record.NewValidationError("change", string(b), record.ErrInvalidValue)
	}
	*k = parsed
	return nil
}

// Change describes a committed mutation. For deletions Record holds the last
// stored copy when it could be read, otherwise only its ID.
type Change struct {
	Kind   ChangeKind
	Record record.Record
}

// IsClientError reports whether err was caused by the request rather than
// the store, so that it must not count against a circuit breaker.
func IsClientError(err error) bool {
	var ve *record.ValidationError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidCursor) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &ve)
}
