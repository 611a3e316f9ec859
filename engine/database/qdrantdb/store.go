// Package qdrantdb stores records as Qdrant points. The full record is kept
// as JSON in the payload next to folded copies of its string fields and its
// location, which is what filters are evaluated against.
package qdrantdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/kitchensink/engine/database"
	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/pkg/fn"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
)

// Payload keys.
const (
	keyRecord = "_record"
	keyType   = "_type"
	keyText   = "_text"
	foldKey   = "_fold_"
)

const cursorPrefix = "qdrantv1:"

// pointNamespace derives point UUIDs for record IDs that are not UUIDs.
var pointNamespace = uuid.MustParse("8f1e6c3a-2b4d-4e6f-9a1b-3c5d7e9f0a2b")

type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store is a database.Database backed by a Qdrant collection.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string
	pageSize    uint32
	now         func() time.Time
}

// New connects to Qdrant at the given gRPC address.
func New(addr, collection string, pageSize int) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrantdb: dial qdrant %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, pageSize)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a Store over existing gRPC clients.
func NewWithClients(points pointsClient, collections collectionsClient, collection string, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = database.DefaultPageSize
	}
	return &Store{
		points:      points,
		collections: collections,
		collection:  collection,
		pageSize:    uint32(pageSize),
		now:         time.Now,
	}
}

var _ database.Database = (*Store)(nil)

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection and its payload indexes if the
// collection doesn't exist. Points carry a constant one-dimensional vector;
// only payload is ever queried.
func (s *Store) EnsureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrantdb: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: 1, Distance: pb.Distance_Dot},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrantdb: create collection %s: %w", s.collection, err)
	}

	wait := true
	for field, kind := range map[string]pb.FieldType{
		keyType:              pb.FieldType_FieldTypeKeyword,
		record.LocationField: pb.FieldType_FieldTypeGeo,
	} {
		_, err := s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      &kind,
		})
		if err != nil {
			return fmt.Errorf("qdrantdb: index %s: %w", field, err)
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, rec record.Record) (record.Record, error) {
	if err := rec.Validate(); err != nil {
		return record.Record{}, err
	}
	out := rec.Clone()
	if out.ID == "" {
		out.ID = record.NewID()
	}

	now := s.now().UTC()
	prev, err := s.Fetch(ctx, out.ID)
	switch {
	case err == nil:
		out.Version = prev.Version + 1
		out.Created = prev.Created
	case errors.Is(err, database.ErrNotFound):
		out.Version = 1
		out.Created = now
	default:
		return record.Record{}, err
	}
	out.Modified = now

	point, err := toPoint(out)
	if err != nil {
		return record.Record{}, err
	}
	wait := true
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         []*pb.PointStruct{point},
	})
	if err != nil {
		return record.Record{}, fmt.Errorf("qdrantdb: upsert %s: %w", out.ID, err)
	}
	return out, nil
}

func (s *Store) Fetch(ctx context.Context, id record.ID) (record.Record, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID(id)},
		WithPayload:    withPayload(),
	})
	if err != nil {
		return record.Record{}, fmt.Errorf("qdrantdb: get %s: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return record.Record{}, fmt.Errorf("qdrantdb: get %s: %w", id, database.ErrNotFound)
	}
	return fromPayload(resp.GetResult()[0].GetPayload())
}

func (s *Store) Delete(ctx context.Context, id record.ID) error {
	if _, err := s.Fetch(ctx, id); err != nil {
		return err
	}
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrantdb: delete %s: %w", id, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, q record.Query, each func(record.Record)) (record.Cursor, error) {
	if err := q.Validate(); err != nil {
		return record.Cursor{}, err
	}
	limit := s.pageSize
	req := &pb.ScrollPoints{
		CollectionName: s.collection,
		Filter:         toFilter(q),
		Limit:          &limit,
		WithPayload:    withPayload(),
	}
	return s.scroll(ctx, req, each)
}

func (s *Store) Continue(ctx context.Context, c record.Cursor, each func(record.Record)) (record.Cursor, error) {
	payload, err := database.DecodeCursor(cursorPrefix, c)
	if err != nil {
		return record.Cursor{}, err
	}
	var req pb.ScrollPoints
	if err := proto.Unmarshal(payload, &req); err != nil {
		return record.Cursor{}, fmt.Errorf("%w: %v", database.ErrInvalidCursor, err)
	}
	if req.GetCollectionName() != s.collection || req.GetOffset() == nil {
		return record.Cursor{}, fmt.Errorf("%w: cursor minted for another scroll", database.ErrInvalidCursor)
	}
	return s.scroll(ctx, &req, each)
}

// scroll fetches one page. The request with its offset advanced is the
// continuation cursor.
func (s *Store) scroll(ctx context.Context, req *pb.ScrollPoints, each func(record.Record)) (record.Cursor, error) {
	resp, err := s.points.Scroll(ctx, req)
	if err != nil {
		return record.Cursor{}, fmt.Errorf("qdrantdb: scroll: %w", err)
	}
	for _, p := range resp.GetResult() {
		rec, err := fromPayload(p.GetPayload())
		if err != nil {
			return record.Cursor{}, err
		}
		each(rec)
	}
	next := resp.GetNextPageOffset()
	if next == nil {
		return record.Cursor{}, nil
	}
	cont := proto.Clone(req).(*pb.ScrollPoints)
	cont.Offset = next
	payload, err := proto.Marshal(cont)
	if err != nil {
		return record.Cursor{}, fmt.Errorf("qdrantdb: encode cursor: %w", err)
	}
	return database.EncodeCursor(cursorPrefix, payload), nil
}

func (s *Store) RecordTypes(ctx context.Context) ([]string, error) {
	limit := uint32(256)
	req := &pb.ScrollPoints{
		CollectionName: s.collection,
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{keyType}},
			},
		},
	}
	var types []string
	for {
		resp, err := s.points.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("qdrantdb: scroll types: %w", err)
		}
		for _, p := range resp.GetResult() {
			if t := p.GetPayload()[keyType].GetStringValue(); t != "" {
				types = append(types, t)
			}
		}
		if resp.GetNextPageOffset() == nil {
			break
		}
		req.Offset = resp.GetNextPageOffset()
	}
	types = fn.Unique(types)
	sort.Strings(types)
	return types, nil
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func pointID(id record.ID) *pb.PointId {
	u, err := uuid.Parse(string(id))
	if err != nil {
		u = uuid.NewSHA1(pointNamespace, []byte(id))
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u.String()}}
}

func toPoint(rec record.Record) (*pb.PointStruct, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("qdrantdb: encode %s: %w", rec.ID, err)
	}
	payload := map[string]*pb.Value{
		keyRecord: stringValue(string(data)),
		keyType:   stringValue(rec.Type),
	}
	var texts []string
	for _, k := range rec.Keys() {
		v := rec.Fields[k]
		if str, ok := v.Str(); ok {
			folded := record.Fold(str)
			payload[foldKey+k] = stringValue(folded)
			texts = append(texts, folded)
		}
	}
	if len(texts) > 0 {
		payload[keyText] = stringValue(strings.Join(texts, "\n"))
	}
	if loc, ok := rec.Fields[record.LocationField].Location(); ok {
		payload[record.LocationField] = &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{
			Fields: map[string]*pb.Value{
				"lat": {Kind: &pb.Value_DoubleValue{DoubleValue: loc.Latitude}},
				"lon": {Kind: &pb.Value_DoubleValue{DoubleValue: loc.Longitude}},
			},
		}}}
	}
	return &pb.PointStruct{
		Id: pointID(rec.ID),
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: []float32{1}}},
		},
		Payload: payload,
	}, nil
}

func fromPayload(payload map[string]*pb.Value) (record.Record, error) {
	raw := payload[keyRecord].GetStringValue()
	if raw == "" {
		return record.Record{}, fmt.Errorf("qdrantdb: point without %s payload", keyRecord)
	}
	var rec record.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return record.Record{}, fmt.Errorf("qdrantdb: decode record: %w", err)
	}
	return rec, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// toFilter translates a query. Text matches use the folded payload copies;
// without a full-text index Qdrant evaluates them as substring matches.
func toFilter(q record.Query) *pb.Filter {
	must := []*pb.Condition{fieldMatch(keyType, q.RecordType)}
	f := q.Filter
	switch f.Kind() {
	case record.TextContains:
		key := keyText
		if f.Field() != "" {
			key = foldKey + f.Field()
		}
		must = append(must, textMatch(key, record.Fold(f.Text())))
	case record.NearLocation:
		c := f.Center()
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: record.LocationField,
					GeoRadius: &pb.GeoRadius{
						Center: &pb.GeoPoint{Lat: c.Latitude, Lon: c.Longitude},
						Radius: float32(f.Radius()),
					},
				},
			},
		})
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func textMatch(key, text string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Text{Text: text},
				},
			},
		},
	}
}
