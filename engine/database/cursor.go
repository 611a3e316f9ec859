package database

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/WessleyAI/kitchensink/engine/record"
)

// EncodeCursor wraps an opaque payload in a cursor tagged with prefix. The
// prefix lets a store reject cursors minted by another backend.
func EncodeCursor(prefix string, payload []byte) record.Cursor {
	return record.NewCursor(prefix + base64.RawURLEncoding.EncodeToString(payload))
}

// DecodeCursor returns the payload of a cursor minted with prefix.
func DecodeCursor(prefix string, c record.Cursor) ([]byte, error) {
	tok, ok := strings.CutPrefix(c.Token(), prefix)
	if !ok || tok == "" {
		return nil, fmt.Errorf("%w: unsupported cursor prefix", ErrInvalidCursor)
	}
	payload, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return payload, nil
}

// OffsetCursor is the continuation state of stores that page by offset.
type OffsetCursor struct {
	Query  record.Query `json:"q"`
	Offset int          `json:"o"`
}

// EncodeOffsetCursor mints a JSON offset cursor.
func EncodeOffsetCursor(prefix string, oc OffsetCursor) (record.Cursor, error) {
	payload, err := json.Marshal(oc)
	if err != nil {
		return record.Cursor{}, fmt.Errorf("database: encode cursor: %w", err)
	}
	return EncodeCursor(prefix, payload), nil
}

// DecodeOffsetCursor reverses EncodeOffsetCursor and revalidates the query.
func DecodeOffsetCursor(prefix string, c record.Cursor) (OffsetCursor, error) {
	var oc OffsetCursor
	payload, err := DecodeCursor(prefix, c)
	if err != nil {
		return oc, err
	}
	if err := json.Unmarshal(payload, &oc); err != nil {
		return oc, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if oc.Offset < 0 {
		return oc, fmt.Errorf("%w: negative offset", ErrInvalidCursor)
	}
	if err := oc.Query.Validate(); err != nil {
		return oc, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return oc, nil
}
