package record

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewRecordHasID(t *testing.T) {
	a, b := New(MovieType), New(MovieType)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
}

func TestSetZeroValueDeletes(t *testing.T) {
	r := NewMovie("Heat")
	r.Set(MovieTitle, Value{})
	if _, ok := r.Get(MovieTitle); ok {
		t.Fatal("expected title removed")
	}
	var empty Record
	empty.Set("x", IntValue(1))
	if v, _ := empty.Fields["x"].Int(); v != 1 {
		t.Fatal("Set should allocate fields")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := NewMovie("Heat")
	c := r.Clone()
	c.Set(MovieTitle, StringValue("Ronin"))
	if r.Text(MovieTitle) != "Heat" {
		t.Fatal("clone mutated original")
	}
}

func TestRecordValidate(t *testing.T) {
	r := NewMovie("Heat")
	r.Set("bad key", StringValue("x"))
	if err := r.Validate(); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}

	r = NewMovie("Heat")
	r.Set(MovieLocation, LocationValue(Location{Latitude: 100}))
	if err := r.Validate(); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation, got %v", err)
	}
}

func TestRecordJSON(t *testing.T) {
	released := time.Date(1995, 12, 15, 0, 0, 0, 0, time.UTC)
	r := NewMovie("Heat")
	r.Set(MovieReleaseDate, TimeValue(released))
	r.Set(MovieRating, IntValue(5))
	r.Set("budget", NumberValue(60.5))
	r.Set(MovieLocation, LocationValue(Location{Latitude: 34.05, Longitude: -118.24}))
	r.Set("poster", AssetValue(Asset{Key: "posters/heat.png", Size: 10, ContentType: "image/png"}))

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var got Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	for _, k := range r.Keys() {
		if !got.Fields[k].Equal(r.Fields[k]) {
			t.Errorf("field %s: got %v, want %v", k, got.Fields[k], r.Fields[k])
		}
	}
}

func TestValueUnknownKind(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"kind":"blob","value":1}`), &v); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestCursorText(t *testing.T) {
	if !(Cursor{}).IsZero() {
		t.Fatal("zero cursor should be zero")
	}
	c := NewCursor("abc")
	b, _ := c.MarshalText()
	var got Cursor
	if err := got.UnmarshalText(b); err != nil || got != c {
		t.Fatalf("cursor round trip: %v %v", got, err)
	}
}

func TestParseLocation(t *testing.T) {
	l, err := ParseLocation(" 37.33, -122.03 ")
	if err != nil {
		t.Fatal(err)
	}
	if l.Latitude != 37.33 || l.Longitude != -122.03 {
		t.Fatalf("got %v", l)
	}
	for _, bad := range []string{"", "37.33", "x,1", "91,0", "0,181"} {
		if _, err := ParseLocation(bad); !errors.Is(err, ErrInvalidLocation) {
			t.Fatalf("%q: expected ErrInvalidLocation, got %v", bad, err)
		}
	}
}

func TestValidateField(t *testing.T) {
	if err := ValidateField("title"); err != nil {
		t.Fatal(err)
	}
	if err := ValidateField("1title"); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
}
