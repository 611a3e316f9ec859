package record

import (
	"math"
	"strings"
	"time"
)

// MovieType is the record type used throughout the demo data set.
const MovieType = "Movie"

// Movie field keys.
const (
	MovieTitle       = "title"
	MovieReleaseDate = "releaseDate"
	MovieLocation    = LocationField
	MovieRating      = "rating"
)

// MaxRating is the upper bound of the rating slider.
const MaxRating = 5

const releaseDateLayout = "2006-01-02"

// NewMovie returns a Movie record with the title set.
func NewMovie(title string) Record {
	r := New(MovieType)
	if title != "" {
		r.Set(MovieTitle, StringValue(title))
	}
	return r
}

// ParseReleaseDate parses a yyyy-MM-dd date.
func ParseReleaseDate(s string) (time.Time, error) {
	t, err := time.Parse(releaseDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, NewValidationError(MovieReleaseDate, s, ErrInvalidDate)
	}
	return t, nil
}

// FormatReleaseDate renders t as yyyy-MM-dd.
func FormatReleaseDate(t time.Time) string {
	return t.UTC().Format(releaseDateLayout)
}

// RatingFromSlider rounds a slider position up to a whole rating.
func RatingFromSlider(v float64) int64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	r := int64(math.Ceil(v))
	if r > MaxRating {
		r = MaxRating
	}
	return r
}
