package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the type carried by a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindTime
	KindNumber
	KindInteger
	KindLocation
	KindAsset
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindLocation:
		return "location"
	case KindAsset:
		return "asset"
	default:
		return "invalid"
	}
}

func parseKind(s string) Kind {
	for k := KindString; k <= KindAsset; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindInvalid
}

// earthRadius is the mean Earth radius in meters.
const earthRadius = 6371008.8

// Location is a WGS84 point.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Valid reports whether the coordinates are within WGS84 bounds.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180 &&
		!math.IsNaN(l.Latitude) && !math.IsNaN(l.Longitude)
}

// DistanceTo returns the great-circle distance to o in meters.
func (l Location) DistanceTo(o Location) float64 {
	lat1 := l.Latitude * math.Pi / 180
	lat2 := o.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (o.Longitude - l.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ParseLocation parses "lat,lon".
func ParseLocation(s string) (Location, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return Location{}, NewValidationError("location", s, ErrInvalidLocation)
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	l := Location{Latitude: lat, Longitude: lon}
	if err1 != nil || err2 != nil || !l.Valid() {
		return Location{}, NewValidationError("location", s, ErrInvalidLocation)
	}
	return l, nil
}

func (l Location) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Latitude, l.Longitude)
}

// Asset references a binary blob held by an asset store.
type Asset struct {
	Key         string `json:"key"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Value is a typed record field value.
type Value struct {
	kind  Kind
	str   string
	at    time.Time
	num   float64
	i     int64
	loc   Location
	asset Asset
}

func StringValue(s string) Value { return Value{kind: KindString, str: s} }
func TimeValue(t time.Time) Value { return Value{kind: KindTime, at: t.UTC()} }
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }
func IntValue(i int64) Value { return Value{kind: KindInteger, i: i} }
func LocationValue(l Location) Value { return Value{kind: KindLocation, loc: l} }
func AssetValue(a Asset) Value { return Value{kind: KindAsset, asset: a} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsZero() bool { return v.kind == KindInvalid }

func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }
func (v Value) Time() (time.Time, bool) { return v.at, v.kind == KindTime }
func (v Value) Number() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInteger }
func (v Value) Location() (Location, bool) { return v.loc, v.kind == KindLocation }
func (v Value) Asset() (Asset, bool) { return v.asset, v.kind == KindAsset }

// Interface returns the carried value as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindTime:
		return v.at
	case KindNumber:
		return v.num
	case KindInteger:
		return v.i
	case KindLocation:
		return v.loc
	case KindAsset:
		return v.asset
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindTime:
		return v.at.Format(time.RFC3339)
	case KindInvalid:
		return ""
	default:
		return fmt.Sprint(v.Interface())
	}
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindTime {
		return v.at.Equal(o.at)
	}
	return v == o
}

type valueJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindInvalid {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: v.kind.String(), Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var w valueJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch parseKind(w.Kind) {
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case KindTime:
		var t time.Time
		if err := json.Unmarshal(w.Value, &t); err != nil {
			return err
		}
		*v = TimeValue(t)
	case KindNumber:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return err
		}
		*v = NumberValue(f)
	case KindInteger:
		var i int64
		if err := json.Unmarshal(w.Value, &i); err != nil {
			return err
		}
		*v = IntValue(i)
	case KindLocation:
		var l Location
		if err := json.Unmarshal(w.Value, &l); err != nil {
			return err
		}
		*v = LocationValue(l)
	case KindAsset:
		var a Asset
		if err := json.Unmarshal(w.Value, &a); err != nil {
			return err
		}
		*v = AssetValue(a)
	default:
		return NewValidationError("kind", w.Kind, ErrInvalidValue)
	}
	return nil
}
