package query

import (
	"context"
	"time"

	"github.com/WessleyAI/kitchensink/engine/record"
)

// State is the lifecycle state of a query session.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateDone
	StateFailed
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateSuperseded
}

// session is the mutable state of one logical query. Owned by the executor.
type session struct {
	gen        uint64
	query      record.Query
	state      State
	cursor     record.Cursor
	records    []record.Record
	pages      int
	ctx        context.Context
	cancel     context.CancelFunc
	onComplete CompletionFunc
	started    time.Time
}
