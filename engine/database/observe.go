package database

import (
	"context"
	"errors"
	"log/slog"

	"github.com/WessleyAI/kitchensink/engine/record"
)

// ChangeFunc receives committed mutations. It runs on the caller's
// goroutine after the store call returns.
type ChangeFunc func(ctx context.Context, c Change)

// Observed reports successful Save and Delete calls to a ChangeFunc.
type Observed struct {
	Database
	onChange ChangeFunc
	logger   *slog.Logger
}

// Observe wraps db so that every committed mutation is passed to onChange.
func Observe(db Database, onChange ChangeFunc, logger *slog.Logger) *Observed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observed{Database: db, onChange: onChange, logger: logger}
}

func (o *Observed) Save(ctx context.Context, rec record.Record) (record.Record, error) {
	saved, err := o.Database.Save(ctx, rec)
	if err != nil {
		return saved, err
	}
	kind := Updated
	if saved.Version == 1 {
		kind = Created
	}
	o.emit(ctx, Change{Kind: kind, Record: saved})
	return saved, nil
}

func (o *Observed) Delete(ctx context.Context, id record.ID) error {
	prev, err := o.Database.Fetch(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			o.logger.Debug("prefetch before delete failed", "id", id, "err", err)
		}
		prev = record.Record{ID: id}
	}
	if err := o.Database.Delete(ctx, id); err != nil {
		return err
	}
	o.emit(ctx, Change{Kind: Deleted, Record: prev})
	return nil
}

func (o *Observed) emit(ctx context.Context, c Change) {
	if o.onChange == nil {
		return
	}
	o.logger.Debug("record changed", "id", c.Record.ID, "record_type", c.Record.Type, "change", c.Kind.String())
	o.onChange(ctx, c)
}
