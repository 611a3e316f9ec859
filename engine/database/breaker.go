package database

import (
	"context"

	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/pkg/resilience"
)

// Guarded routes every call to a Database through a circuit breaker. While
// the breaker is open calls fail fast with resilience.ErrCircuitOpen.
type Guarded struct {
	Database
	breaker *resilience.Breaker
}

// WithBreaker wraps db. Client errors (see IsClientError) never trip the
// breaker regardless of how b was configured.
func WithBreaker(db Database, opts resilience.BreakerOpts) *Guarded {
	isFailure := opts.IsFailure
	opts.IsFailure = func(err error) bool {
		if IsClientError(err) {
			return false
		}
		return isFailure == nil || isFailure(err)
	}
	return &Guarded{Database: db, breaker: resilience.NewBreaker(opts)}
}

// Breaker exposes the breaker for health reporting.
func (g *Guarded) Breaker() *resilience.Breaker { return g.breaker }

func (g *Guarded) Save(ctx context.Context, rec record.Record) (record.Record, error) {
	return resilience.Do(g.breaker, ctx, func(ctx context.Context) (record.Record, error) {
		return g.Database.Save(ctx, rec)
	})
}

func (g *Guarded) Fetch(ctx context.Context, id record.ID) (record.Record, error) {
	return resilience.Do(g.breaker, ctx, func(ctx context.Context) (record.Record, error) {
		return g.Database.Fetch(ctx, id)
	})
}

func (g *Guarded) Delete(ctx context.Context, id record.ID) error {
	return g.breaker.Call(ctx, func(ctx context.Context) error {
		return g.Database.Delete(ctx, id)
	})
}

func (g *Guarded) Search(ctx context.Context, q record.Query, each func(record.Record)) (record.Cursor, error) {
	return resilience.Do(g.breaker, ctx, func(ctx context.Context) (record.Cursor, error) {
		return g.Database.Search(ctx, q, each)
	})
}

func (g *Guarded) Continue(ctx context.Context, c record.Cursor, each func(record.Record)) (record.Cursor, error) {
	return resilience.Do(g.breaker, ctx, func(ctx context.Context) (record.Cursor, error) {
		return g.Database.Continue(ctx, c, each)
	})
}

func (g *Guarded) RecordTypes(ctx context.Context) ([]string, error) {
	return resilience.Do(g.breaker, ctx, g.Database.RecordTypes)
}
