// Package asset stores binary blobs referenced by record asset fields.
package asset

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("asset: not found")
	ErrInvalidKey = errors.New("asset: invalid key")
)

// Store persists assets.
type Store interface {
	// Put stores size bytes from r under a fresh key derived from name and
	// returns the reference to save in a record. size may be -1 if unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (record.Asset, error)
	// Open returns the asset content. The caller must close it.
	Open(ctx context.Context, key string) (io.ReadCloser, record.Asset, error)
	Delete(ctx context.Context, key string) error
}

// NewKey returns a unique key that keeps the extension of name.
func NewKey(name string) string {
	return uuid.NewString() + strings.ToLower(path.Ext(name))
}

// validKey rejects keys that could escape the store's namespace.
func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return ErrInvalidKey
	}
	return nil
}
