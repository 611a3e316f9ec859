// Package repo defines the generic Repository interface and a Neo4j-backed
// implementation of it.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no entity has the requested ID.
var ErrNotFound = errors.New("repo: not found")

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Save(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and filtering for List operations.
type ListOpts struct {
	Offset int
	Limit  int
	// Where is a Cypher predicate over the node bound as n. Empty matches all.
	Where string
	// Params are bound alongside offset and limit.
	Params map[string]any
	// OrderBy is a comma separated list of n properties. Defaults to the ID key.
	OrderBy string
}
