// Package neo4jdb stores records as Neo4j nodes labelled Record. Field
// values are kept as JSON on the node; folded string fields and the
// location point are mirrored into properties that Cypher filters use.
package neo4jdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WessleyAI/kitchensink/engine/database"
	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Label is the node label of stored records.
const Label = "Record"

const (
	cursorPrefix = "neo4jv1:"
	wgs84        = 4326
)

// recordRepo is the subset of repo.Neo4jRepo the store needs.
type recordRepo interface {
	Get(ctx context.Context, id record.ID) (record.Record, error)
	List(ctx context.Context, opts repo.ListOpts) ([]record.Record, error)
	Save(ctx context.Context, rec record.Record) (record.Record, error)
	Delete(ctx context.Context, id record.ID) error
	Query(ctx context.Context, cypher string, params map[string]any, each func(*neo4j.Record) error) error
}

// Store is a database.Database backed by Neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	repo     recordRepo
	pageSize int
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, url, user, pass, dbName string, pageSize int) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: driver %s: %w", url, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: connect %s: %w", url, err)
	}
	r := repo.NewNeo4jRepo[record.Record, record.ID](driver, Label,
		func(rec record.Record) record.ID { return rec.ID },
		toProps, fromRecord,
		repo.WithDatabase[record.Record, record.ID](dbName),
	)
	s := newWithRepo(r, pageSize)
	s.driver = driver
	return s, nil
}

func newWithRepo(r recordRepo, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = database.DefaultPageSize
	}
	return &Store{repo: r, pageSize: pageSize}
}

var _ database.Database = (*Store)(nil)

// EnsureSchema creates the ID constraint and the type and location indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		"CREATE CONSTRAINT record_id IF NOT EXISTS FOR (n:" + Label + ") REQUIRE n.id IS UNIQUE",
		"CREATE INDEX record_type IF NOT EXISTS FOR (n:" + Label + ") ON (n.type)",
		"CREATE POINT INDEX record_location IF NOT EXISTS FOR (n:" + Label + ") ON (n.location)",
	} {
		if err := s.repo.Query(ctx, stmt, nil, func(*neo4j.Record) error { return nil }); err != nil {
			return fmt.Errorf("neo4jdb: schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(context.Background())
}

func (s *Store) Save(ctx context.Context, rec record.Record) (record.Record, error) {
	if err := rec.Validate(); err != nil {
		return record.Record{}, err
	}
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = record.NewID()
	}
	saved, err := s.repo.Save(ctx, rec)
	if err != nil {
		return record.Record{}, fmt.Errorf("neo4jdb: save %s: %w", rec.ID, err)
	}
	return saved, nil
}

func (s *Store) Fetch(ctx context.Context, id record.ID) (record.Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return record.Record{}, mapErr("fetch", id, err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id record.ID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapErr("delete", id, err)
	}
	return nil
}

func mapErr(op string, id record.ID, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("neo4jdb: %s %s: %w", op, id, database.ErrNotFound)
	}
	return fmt.Errorf("neo4jdb: %s %s: %w", op, id, err)
}

func (s *Store) Search(ctx context.Context, q record.Query, each func(record.Record)) (record.Cursor, error) {
	if err := q.Validate(); err != nil {
		return record.Cursor{}, err
	}
	return s.page(ctx, database.OffsetCursor{Query: q}, each)
}

func (s *Store) Continue(ctx context.Context, c record.Cursor, each func(record.Record)) (record.Cursor, error) {
	oc, err := database.DecodeOffsetCursor(cursorPrefix, c)
	if err != nil {
		return record.Cursor{}, err
	}
	return s.page(ctx, oc, each)
}

// page lists one window past the offset with a single row of lookahead.
func (s *Store) page(ctx context.Context, oc database.OffsetCursor, each func(record.Record)) (record.Cursor, error) {
	where, params := whereClause(oc.Query)
	recs, err := s.repo.List(ctx, repo.ListOpts{
		Offset:  oc.Offset,
		Limit:   s.pageSize + 1,
		Where:   where,
		Params:  params,
		OrderBy: "created, id",
	})
	if err != nil {
		return record.Cursor{}, fmt.Errorf("neo4jdb: search: %w", err)
	}
	more := len(recs) > s.pageSize
	if more {
		recs = recs[:s.pageSize]
	}
	for _, rec := range recs {
		each(rec)
	}
	if !more {
		return record.Cursor{}, nil
	}
	oc.Offset += len(recs)
	return database.EncodeOffsetCursor(cursorPrefix, oc)
}

func (s *Store) RecordTypes(ctx context.Context) ([]string, error) {
	var types []string
	err := s.repo.Query(ctx, "MATCH (n:"+Label+") RETURN DISTINCT n.type AS type ORDER BY type", nil, func(rec *neo4j.Record) error {
		if len(rec.Values) > 0 {
			if t, ok := rec.Values[0].(string); ok {
				types = append(types, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: record types: %w", err)
	}
	return types, nil
}

// whereClause translates a query into a Cypher predicate over n.
func whereClause(q record.Query) (string, map[string]any) {
	conds := []string{"n.type = $type"}
	params := map[string]any{"type": q.RecordType}

	f := q.Filter
	switch f.Kind() {
	case record.TextContains:
		params["needle"] = record.Fold(f.Text())
		if f.Field() == "" {
			conds = append(conds, "ANY(v IN coalesce(n.search_values, []) WHERE v CONTAINS $needle)")
		} else {
			params["field"] = f.Field()
			conds = append(conds, "ANY(i IN range(0, size(coalesce(n.search_keys, [])) - 1) WHERE n.search_keys[i] = $field AND n.search_values[i] CONTAINS $needle)")
		}
	case record.NearLocation:
		c := f.Center()
		params["lat"], params["lon"], params["radius"] = c.Latitude, c.Longitude, f.Radius()
		conds = append(conds, "n.location IS NOT NULL AND point.distance(n.location, point({latitude: $lat, longitude: $lon})) < $radius")
	}
	return strings.Join(conds, " AND "), params
}

// toProps returns the node properties of rec. Version and timestamps are
// maintained by the repository.
func toProps(rec record.Record) map[string]any {
	fields, _ := json.Marshal(rec.Fields)
	props := map[string]any{
		"id":            string(rec.ID),
		"type":          rec.Type,
		"fields":        string(fields),
		"search_keys":   nil,
		"search_values": nil,
		"location":      nil,
	}
	var keys, values []string
	for _, k := range rec.Keys() {
		if s, ok := rec.Fields[k].Str(); ok {
			keys = append(keys, k)
			values = append(values, record.Fold(s))
		}
	}
	if len(keys) > 0 {
		props["search_keys"], props["search_values"] = keys, values
	}
	if loc, ok := rec.Fields[record.LocationField].Location(); ok {
		props["location"] = neo4j.Point2D{X: loc.Longitude, Y: loc.Latitude, SpatialRefId: wgs84}
	}
	return props
}

// fromRecord decodes the node in the first column of a row.
func fromRecord(row *neo4j.Record) (record.Record, error) {
	if len(row.Values) == 0 {
		return record.Record{}, errors.New("neo4jdb: empty row")
	}
	var props map[string]any
	switch v := row.Values[0].(type) {
	case neo4j.Node:
		props = v.Props
	case map[string]any:
		props = v
	default:
		return record.Record{}, fmt.Errorf("neo4jdb: unexpected column type %T", v)
	}

	id, _ := props["id"].(string)
	typ, _ := props["type"].(string)
	rec := record.Record{ID: record.ID(id), Type: typ}
	if raw, _ := props["fields"].(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Fields); err != nil {
			return record.Record{}, fmt.Errorf("neo4jdb: decode %s fields: %w", id, err)
		}
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]record.Value)
	}
	rec.Version, _ = props["version"].(int64)
	rec.Created = asTime(props["created"])
	rec.Modified = asTime(props["modified"])
	return rec, nil
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return time.Time{}
}
