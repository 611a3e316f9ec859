package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/kitchensink/engine/database"
	"github.com/WessleyAI/kitchensink/engine/record"
)

// RecordType is the type of the records subscriptions are stored as.
const RecordType = "Subscription"

const (
	fieldRecordType = "recordType"
	fieldDefinition = "definition"
)

// Registry persists subscriptions as records in a database so that they
// live next to the data they watch.
type Registry struct {
	db     database.Database
	logger *slog.Logger
}

// NewRegistry returns a registry storing into db.
func NewRegistry(db database.Database, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger}
}

// Save stores s, assigning an ID when it has none. An ID already held by a
// record of another type is rejected.
func (r *Registry) Save(ctx context.Context, s Subscription) (Subscription, error) {
	if err := s.Validate(); err != nil {
		return Subscription{}, err
	}
	if s.ID == "" {
		s.ID = string(record.NewID())
	} else {
		prev, err := r.db.Fetch(ctx, record.ID(s.ID))
		switch {
		case err == nil && prev.Type != RecordType:
			return Subscription{}, record.NewValidationError("id", s.ID, ErrIDInUse)
		case err != nil && !errors.Is(err, database.ErrNotFound):
			return Subscription{}, fmt.Errorf("subscription: save %s: %w", s.ID, err)
		}
	}
	rec, err := toRecord(s)
	if err != nil {
		return Subscription{}, err
	}
	if _, err := r.db.Save(ctx, rec); err != nil {
		return Subscription{}, fmt.Errorf("subscription: save %s: %w", s.ID, err)
	}
	return s, nil
}

// Get returns the subscription stored under id.
func (r *Registry) Get(ctx context.Context, id string) (Subscription, error) {
	rec, err := r.db.Fetch(ctx, record.ID(id))
	if errors.Is(err, database.ErrNotFound) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription: get %s: %w", id, err)
	}
	if rec.Type != RecordType {
		return Subscription{}, ErrNotFound
	}
	return fromRecord(rec)
}

// Delete removes the subscription stored under id.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	err := r.db.Delete(ctx, record.ID(id))
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("subscription: delete %s: %w", id, err)
	}
	return nil
}

// Guard rejects a plain record save that would create or overwrite a
// stored subscription. Subscriptions are written through Save only.
func (r *Registry) Guard(ctx context.Context, rec record.Record) error {
	if rec.Type == RecordType {
		return record.NewValidationError("type", rec.Type, ErrReservedType)
	}
	if rec.ID == "" {
		return nil
	}
	prev, err := r.db.Fetch(ctx, rec.ID)
	switch {
	case err == nil && prev.Type == RecordType:
		return record.NewValidationError("id", string(rec.ID), ErrIDInUse)
	case err != nil && !errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("subscription: guard %s: %w", rec.ID, err)
	}
	return nil
}

// List returns every stored subscription, following continuation cursors
// until the last page. Records that do not decode are logged and skipped.
func (r *Registry) List(ctx context.Context) ([]Subscription, error) {
	var out []Subscription
	each := func(rec record.Record) {
		s, err := fromRecord(rec)
		if err != nil {
			r.logger.Warn("skipping undecodable subscription", "id", rec.ID, "err", err)
			return
		}
		out = append(out, s)
	}
	cursor, err := r.db.Search(ctx, record.Query{RecordType: RecordType, Filter: record.All()}, each)
	for err == nil && !cursor.IsZero() {
		cursor, err = r.db.Continue(ctx, cursor, each)
	}
	if err != nil {
		return nil, fmt.Errorf("subscription: list: %w", err)
	}
	return out, nil
}

func toRecord(s Subscription) (record.Record, error) {
	def, err := json.Marshal(s)
	if err != nil {
		return record.Record{}, fmt.Errorf("subscription: encode %s: %w", s.ID, err)
	}
	rec := record.New(RecordType)
	rec.ID = record.ID(s.ID)
	rec.Set(fieldRecordType, record.StringValue(s.RecordType))
	rec.Set(fieldDefinition, record.StringValue(string(def)))
	return rec, nil
}

func fromRecord(rec record.Record) (Subscription, error) {
	var s Subscription
	if err := json.Unmarshal([]byte(rec.Text(fieldDefinition)), &s); err != nil {
		return Subscription{}, fmt.Errorf("subscription: decode %s: %w", rec.ID, err)
	}
	s.ID = string(rec.ID)
	return s, nil
}
