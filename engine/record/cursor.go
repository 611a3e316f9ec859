package record

// Cursor is an opaque continuation token minted by a record store when a
// result page is truncated. The zero Cursor means there are no more pages.
type Cursor struct {
	token string
}

// NewCursor wraps a store-specific token. Only stores should call it.
func NewCursor(token string) Cursor { return Cursor{token: token} }

// Token returns the store-specific token.
func (c Cursor) Token() string { return c.token }

// IsZero reports whether the cursor marks the end of a result set.
func (c Cursor) IsZero() bool { return c.token == "" }

func (c Cursor) MarshalText() ([]byte, error) { return []byte(c.token), nil }

func (c *Cursor) UnmarshalText(b []byte) error {
	c.token = string(b)
	return nil
}
