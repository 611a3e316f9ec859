package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/pkg/fn"
)

const memoryCursorPrefix = "memv1:"

// Memory is an in-process Database. Results are ordered by creation time
// then ID. Cursors hold the query and an offset, so records created or
// deleted between pages may shift the window.
type Memory struct {
	mu       sync.RWMutex
	records  map[record.ID]record.Record
	pageSize int
	closed   bool
	now      func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithPageSize sets the number of records returned per page.
func WithPageSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		records:  make(map[record.ID]record.Record),
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

var _ Database = (*Memory)(nil)

func (m *Memory) Save(ctx context.Context, rec record.Record) (record.Record, error) {
	if err := rec.Validate(); err != nil {
		return record.Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return record.Record{}, ErrClosed
	}

	out := rec.Clone()
	if out.ID == "" {
		out.ID = record.NewID()
	}
	now := m.now().UTC()
	if prev, ok := m.records[out.ID]; ok {
		out.Version = prev.Version + 1
		out.Created = prev.Created
	} else {
		out.Version = 1
		out.Created = now
	}
	out.Modified = now
	m.records[out.ID] = out
	return out.Clone(), nil
}

func (m *Memory) Fetch(ctx context.Context, id record.ID) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return record.Record{}, ErrClosed
	}
	rec, ok := m.records[id]
	if !ok {
		return record.Record{}, fmt.Errorf("database: fetch %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, id record.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("database: delete %s: %w", id, ErrNotFound)
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) Search(ctx context.Context, q record.Query, each func(record.Record)) (record.Cursor, error) {
	if err := q.Validate(); err != nil {
		return record.Cursor{}, err
	}
	return m.page(ctx, OffsetCursor{Query: q}, each)
}

func (m *Memory) Continue(ctx context.Context, c record.Cursor, each func(record.Record)) (record.Cursor, error) {
	oc, err := DecodeOffsetCursor(memoryCursorPrefix, c)
	if err != nil {
		return record.Cursor{}, err
	}
	return m.page(ctx, oc, each)
}

// page reads one page past oc.Offset, looking one record ahead to decide
// whether a continuation cursor is needed.
func (m *Memory) page(ctx context.Context, oc OffsetCursor, each func(record.Record)) (record.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return record.Cursor{}, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return record.Cursor{}, ErrClosed
	}
	matches := make([]record.Record, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Type == oc.Query.RecordType && oc.Query.Filter.Matches(rec) {
			matches = append(matches, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return a.ID < b.ID
	})

	if oc.Offset >= len(matches) {
		return record.Cursor{}, nil
	}
	window := matches[oc.Offset:]
	more := len(window) > m.pageSize
	if more {
		window = window[:m.pageSize]
	}
	for _, rec := range window {
		each(rec)
	}
	if !more {
		return record.Cursor{}, nil
	}
	oc.Offset += len(window)
	return EncodeOffsetCursor(memoryCursorPrefix, oc)
}

func (m *Memory) RecordTypes(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	types := make([]string, 0, len(m.records))
	for _, rec := range m.records {
		types = append(types, rec.Type)
	}
	types = fn.Unique(types)
	sort.Strings(types)
	return types, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
