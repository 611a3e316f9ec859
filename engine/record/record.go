// Package record defines the record model shared by every store, the query
// runner and the subscription matcher: typed field values, filters, queries
// and continuation cursors.
package record

import (
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ID is a stable record identifier.
type ID string

// NewID returns a fresh random record ID.
func NewID() ID { return ID(uuid.NewString()) }

// Record is a typed mapping from field name to value.
type Record struct {
	ID       ID               `json:"id"`
	Type     string           `json:"type"`
	Fields   map[string]Value `json:"fields"`
	Version  int64            `json:"version"`
	Created  time.Time        `json:"created,omitempty"`
	Modified time.Time        `json:"modified,omitempty"`
}

// New returns an empty record of the given type with a fresh ID.
func New(recordType string) Record {
	return Record{
		ID:     NewID(),
		Type:   recordType,
		Fields: make(map[string]Value),
	}
}

// Get returns the value stored under key.
func (r Record) Get(key string) (Value, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// Set stores v under key. A zero Value removes the field.
func (r *Record) Set(key string, v Value) {
	if v.IsZero() {
		delete(r.Fields, key)
		return
	}
	if r.Fields == nil {
		r.Fields = make(map[string]Value)
	}
	r.Fields[key] = v
}

// Text returns the string field under key, or "".
func (r Record) Text(key string) string {
	v, _ := r.Fields[key].Str()
	return v
}

// Keys returns field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy whose field map can be mutated independently.
func (r Record) Clone() Record {
	out := r
	out.Fields = make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

var nameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// ValidateType checks a record type name.
func ValidateType(recordType string) error {
	if !nameRegex.MatchString(recordType) {
		return NewValidationError("type", recordType, ErrInvalidRecordType)
	}
	return nil
}

// ValidateField checks a field name.
func ValidateField(name string) error {
	if !nameRegex.MatchString(name) {
		return NewValidationError("field", name, ErrInvalidField)
	}
	return nil
}

// Validate checks the record type and every field name and value.
func (r Record) Validate() error {
	if err := ValidateType(r.Type); err != nil {
		return err
	}
	for k, v := range r.Fields {
		if err := ValidateField(k); err != nil {
			return err
		}
		if v.IsZero() {
			return NewValidationError(k, "", ErrInvalidValue)
		}
		if loc, ok := v.Location(); ok && !loc.Valid() {
			return NewValidationError(k, loc.String(), ErrInvalidLocation)
		}
	}
	return nil
}
