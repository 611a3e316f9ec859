package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// LocationField is the field NearLocation filters measure against.
const LocationField = "location"

// DefaultRadius is the search radius used when none is given, in meters.
const DefaultRadius = 500.0

// FilterKind discriminates the Filter variants.
type FilterKind int

const (
	MatchAll FilterKind = iota
	TextContains
	NearLocation
)

func (k FilterKind) String() string {
	switch k {
	case MatchAll:
		return "all"
	case TextContains:
		return "text"
	case NearLocation:
		return "near"
	default:
		return "unknown"
	}
}

// Filter selects records. The zero Filter matches every record.
type Filter struct {
	kind   FilterKind
	field  string
	text   string
	center Location
	radius float64
}

// All returns a filter matching every record.
func All() Filter { return Filter{kind: MatchAll} }

// Contains matches records whose field contains text, ignoring case. An
// empty field searches every string field.
func Contains(field, text string) Filter {
	return Filter{kind: TextContains, field: field, text: text}
}

// Near matches records whose location lies strictly within radius meters of
// center. A non-positive radius selects DefaultRadius.
func Near(center Location, radius float64) Filter {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return Filter{kind: NearLocation, center: center, radius: radius}
}

func (f Filter) Kind() FilterKind { return f.kind }
func (f Filter) Field() string { return f.field }
func (f Filter) Text() string { return f.text }
func (f Filter) Center() Location { return f.center }
func (f Filter) Radius() float64 { return f.radius }

// Validate rejects filters that can never be sent to a store.
func (f Filter) Validate() error {
	switch f.kind {
	case MatchAll:
		return nil
	case TextContains:
		if strings.TrimSpace(f.text) == "" {
			return NewValidationError("text", f.text, ErrEmptyText)
		}
		if f.field != "" && !nameRegex.MatchString(f.field) {
			return NewValidationError("field", f.field, ErrInvalidField)
		}
		return nil
	case NearLocation:
		if !f.center.Valid() {
			return NewValidationError("center", f.center.String(), ErrInvalidLocation)
		}
		if f.radius <= 0 || math.IsInf(f.radius, 0) || math.IsNaN(f.radius) {
			return NewValidationError("radius", fmt.Sprint(f.radius), ErrInvalidRadius)
		}
		return nil
	default:
		return NewValidationError("kind", f.kind.String(), ErrInvalidValue)
	}
}

// Matches evaluates the filter against r.
func (f Filter) Matches(r Record) bool {
	switch f.kind {
	case MatchAll:
		return true
	case TextContains:
		needle := Fold(f.text)
		if f.field != "" {
			s, ok := r.Fields[f.field].Str()
			return ok && strings.Contains(Fold(s), needle)
		}
		for _, v := range r.Fields {
			if s, ok := v.Str(); ok && strings.Contains(Fold(s), needle) {
				return true
			}
		}
		return false
	case NearLocation:
		loc, ok := r.Fields[LocationField].Location()
		return ok && loc.DistanceTo(f.center) < f.radius
	default:
		return false
	}
}

// Fold case-folds s for case-insensitive comparisons.
func Fold(s string) string {
	return cases.Fold().String(s)
}

func (f Filter) String() string {
	switch f.kind {
	case TextContains:
		if f.field == "" {
			return fmt.Sprintf("self contains %q", f.text)
		}
		return fmt.Sprintf("%s contains %q", f.field, f.text)
	case NearLocation:
		return fmt.Sprintf("distance(%s, %s) < %g", LocationField, f.center, f.radius)
	default:
		return "true"
	}
}

type filterJSON struct {
	Kind   string    `json:"kind"`
	Field  string    `json:"field,omitempty"`
	Text   string    `json:"text,omitempty"`
	Center *Location `json:"center,omitempty"`
	Radius float64   `json:"radius,omitempty"`
}

func (f Filter) MarshalJSON() ([]byte, error) {
	w := filterJSON{Kind: f.kind.String()}
	switch f.kind {
	case TextContains:
		w.Field, w.Text = f.field, f.text
	case NearLocation:
		c := f.center
		w.Center, w.Radius = &c, f.radius
	}
	return json.Marshal(w)
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var w filterJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "", "all":
		*f = All()
	case "text":
		*f = Contains(w.Field, w.Text)
	case "near":
		if w.Center == nil {
			return NewValidationError("center", "", ErrInvalidLocation)
		}
		*f = Near(*w.Center, w.Radius)
	default:
		return NewValidationError("kind", w.Kind, ErrInvalidValue)
	}
	return nil
}

// Query pairs a record type with a filter.
type Query struct {
	RecordType string `json:"record_type"`
	Filter     Filter `json:"filter"`
}

// Validate checks both the record type and the filter.
func (q Query) Validate() error {
	if err := ValidateType(q.RecordType); err != nil {
		return err
	}
	return q.Filter.Validate()
}
