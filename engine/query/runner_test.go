package query

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/pkg/activity"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Mock store ---

type page struct {
	titles []string
	err    error
	gate   chan struct{}
}

// mockStore serves scripted pages keyed by the query's filter text. The
// cursor token is "<text>:<page index>".
type mockStore struct {
	mu    sync.Mutex
	pages map[string][]page
	calls []string
}

func newMockStore() *mockStore {
	return &mockStore{pages: make(map[string][]page)}
}

func (m *mockStore) script(text string, pages ...page) {
	m.pages[text] = pages
}

func (m *mockStore) Search(ctx context.Context, q record.Query, each func(record.Record)) (record.Cursor, error) {
	return m.serve(ctx, q.Filter.Text(), 0, each)
}

func (m *mockStore) Continue(ctx context.Context, c record.Cursor, each func(record.Record)) (record.Cursor, error) {
	text, idx, _ := strings.Cut(c.Token(), ":")
	i, err := strconv.Atoi(idx)
	if err != nil {
		return record.Cursor{}, err
	}
	return m.serve(ctx, text, i, each)
}

func (m *mockStore) serve(ctx context.Context, text string, i int, each func(record.Record)) (record.Cursor, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text+":"+strconv.Itoa(i))
	pages := m.pages[text]
	m.mu.Unlock()

	if i >= len(pages) {
		return record.Cursor{}, nil
	}
	p := pages[i]
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return record.Cursor{}, ctx.Err()
		}
	}
	for _, title := range p.titles {
		each(record.NewMovie(title))
	}
	if p.err != nil {
		return record.Cursor{}, p.err
	}
	if i+1 < len(pages) {
		return record.NewCursor(text + ":" + strconv.Itoa(i+1)), nil
	}
	return record.Cursor{}, nil
}

func (m *mockStore) called(call string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == call {
			return true
		}
	}
	return false
}

// waitFor polls until call has been made to the store.
func (m *mockStore) waitFor(t *testing.T, call string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !m.called(call) {
		if time.Now().After(deadline) {
			t.Fatalf("store never saw %s", call)
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *mockStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// --- Helpers ---

type result struct {
	records []record.Record
	err     error
}

func collect() (CompletionFunc, chan result) {
	ch := make(chan result, 8)
	return func(recs []record.Record, err error) {
		ch <- result{recs, err}
	}, ch
}

func await(t *testing.T, ch chan result) result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return result{}
	}
}

func titles(recs []record.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Text(record.MovieTitle))
	}
	return out
}

func assertTitles(t *testing.T, recs []record.Record, want ...string) {
	t.Helper()
	got := titles(recs)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected titles %v, got %v", want, got)
	}
}

func text(s string) record.Filter { return record.Contains(record.MovieTitle, s) }

// --- Tests ---

func TestRunDeliversAllPagesInOrder(t *testing.T) {
	store := newMockStore()
	store.script("q",
		page{titles: []string{"A", "B"}},
		page{titles: []string{"C"}},
		page{},
	)
	r := New(store, DefaultOptions())

	fn, ch := collect()
	r.Run(text("q"), fn)
	res := await(t, ch)
	r.Close()

	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	assertTitles(t, res.records, "A", "B", "C")
	if n := store.callCount(); n != 3 {
		t.Fatalf("expected 3 fetches, got %d", n)
	}
	if len(ch) != 0 {
		t.Fatal("completion delivered more than once")
	}
}

func TestRunSinglePage(t *testing.T) {
	store := newMockStore()
	store.script("q", page{titles: []string{"Heat"}})
	r := New(store, DefaultOptions())
	defer r.Close()

	fn, ch := collect()
	r.Run(text("q"), fn)
	res := await(t, ch)
	if res.err != nil {
		t.Fatal(res.err)
	}
	assertTitles(t, res.records, "Heat")
}

func TestRunEmptyResult(t *testing.T) {
	r := New(newMockStore(), DefaultOptions())
	defer r.Close()

	fn, ch := collect()
	r.Run(record.All(), fn)
	res := await(t, ch)
	if res.err != nil || len(res.records) != 0 {
		t.Fatalf("expected empty success, got %v %v", res.records, res.err)
	}
}

func TestRunFailureStopsAndReturnsPartial(t *testing.T) {
	boom := errors.New("zone unavailable")
	store := newMockStore()
	store.script("q",
		page{titles: []string{"A"}},
		page{err: boom},
		page{titles: []string{"C"}},
	)
	r := New(store, DefaultOptions())

	fn, ch := collect()
	r.Run(text("q"), fn)
	res := await(t, ch)
	r.Close()

	if !errors.Is(res.err, ErrQueryFailed) {
		t.Fatalf("expected ErrQueryFailed, got %v", res.err)
	}
	if !errors.Is(res.err, boom) {
		t.Fatalf("expected cause to unwrap, got %v", res.err)
	}
	var qe *QueryError
	if !errors.As(res.err, &qe) || qe.Pages != 2 {
		t.Fatalf("expected QueryError on page 2, got %#v", res.err)
	}
	assertTitles(t, res.records, "A")
	if n := store.callCount(); n != 2 {
		t.Fatalf("expected no fetch after failure, got %d calls", n)
	}
}

func TestRunSupersedesOutstandingSession(t *testing.T) {
	store := newMockStore()
	store.script("first", page{titles: []string{"old"}, gate: make(chan struct{})})
	store.script("second", page{titles: []string{"new"}})
	r := New(store, DefaultOptions())

	fn1, ch1 := collect()
	fn2, ch2 := collect()
	r.Run(text("first"), fn1)
	r.Run(text("second"), fn2)

	res := await(t, ch2)
	r.Close()

	assertTitles(t, res.records, "new")
	if len(ch1) != 0 {
		t.Fatal("superseded session delivered a result")
	}
}

func TestCancelBeforeFirstPage(t *testing.T) {
	store := newMockStore()
	store.script("q", page{titles: []string{"A"}, gate: make(chan struct{})})
	r := New(store, DefaultOptions())

	fn, ch := collect()
	r.Run(text("q"), fn)
	r.Cancel()
	r.Close()

	if len(ch) != 0 {
		t.Fatal("cancelled session delivered a result")
	}
	if r.Activity().Visible() {
		t.Fatal("activity still visible after cancel")
	}
}

func TestSupersedeMidPagination(t *testing.T) {
	store := newMockStore()
	store.script("first",
		page{titles: []string{"A"}},
		page{titles: []string{"B"}, gate: make(chan struct{})},
		page{titles: []string{"C"}},
	)
	store.script("second", page{titles: []string{"new"}})
	r := New(store, DefaultOptions())

	fn1, ch1 := collect()
	r.Run(text("first"), fn1)
	store.waitFor(t, "first:1")

	fn2, ch2 := collect()
	r.Run(text("second"), fn2)
	res := await(t, ch2)
	r.Close()

	assertTitles(t, res.records, "new")
	if len(ch1) != 0 {
		t.Fatal("superseded session delivered a result")
	}
	if store.called("first:2") {
		t.Fatal("superseded session fetched another page")
	}
	if n := r.Activity().Active(); n != 0 {
		t.Fatalf("expected no active operations, got %d", n)
	}
}

func TestCancelMidPagination(t *testing.T) {
	store := newMockStore()
	store.script("q",
		page{titles: []string{"A"}},
		page{titles: []string{"B"}, gate: make(chan struct{})},
		page{titles: []string{"C"}},
	)
	r := New(store, DefaultOptions())

	fn, ch := collect()
	r.Run(text("q"), fn)
	store.waitFor(t, "q:1")
	r.Cancel()
	r.Close()

	if len(ch) != 0 {
		t.Fatal("cancelled session delivered a result")
	}
	if store.called("q:2") {
		t.Fatal("cancelled session fetched another page")
	}
	if n := r.Activity().Active(); n != 0 {
		t.Fatalf("expected no active operations, got %d", n)
	}
}

func TestActivityTogglesOnce(t *testing.T) {
	store := newMockStore()
	gate := make(chan struct{})
	store.script("q", page{titles: []string{"A"}}, page{titles: []string{"B"}, gate: gate})

	ind := activity.New()
	var (
		mu          sync.Mutex
		transitions []bool
	)
	ind.Watch(func(v bool) {
		mu.Lock()
		transitions = append(transitions, v)
		mu.Unlock()
	})
	opts := DefaultOptions()
	opts.Activity = ind
	r := New(store, opts)
	defer r.Close()

	fn, ch := collect()
	r.Run(text("q"), fn)
	if !ind.Visible() {
		t.Fatal("activity should be visible as soon as Run returns")
	}
	close(gate)
	await(t, ch)

	if ind.Visible() {
		t.Fatal("activity should be hidden after completion")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Fatalf("expected [true false], got %v", transitions)
	}
}

func TestActivityStaysVisibleAcrossSupersede(t *testing.T) {
	store := newMockStore()
	store.script("first", page{gate: make(chan struct{})})
	gate := make(chan struct{})
	store.script("second", page{titles: []string{"B"}, gate: gate})

	ind := activity.New()
	var (
		mu    sync.Mutex
		flips int
	)
	ind.Watch(func(bool) {
		mu.Lock()
		flips++
		mu.Unlock()
	})
	opts := DefaultOptions()
	opts.Activity = ind
	r := New(store, opts)
	defer r.Close()

	fn, ch := collect()
	r.Run(text("first"), nil)
	r.Run(text("second"), fn)
	close(gate)
	await(t, ch)

	mu.Lock()
	defer mu.Unlock()
	if flips != 2 {
		t.Fatalf("expected a single show/hide pair, got %d transitions", flips)
	}
}

func TestStateTransitions(t *testing.T) {
	store := newMockStore()
	gate := make(chan struct{})
	store.script("q", page{titles: []string{"A"}, gate: gate})

	loop := NewLoop()
	defer loop.Close()
	opts := DefaultOptions()
	opts.Executor = loop
	r := New(store, opts)
	defer r.Close()

	state := func() State {
		ch := make(chan State, 1)
		loop.Post(func() { ch <- r.State() })
		return <-ch
	}

	if s := state(); s != StateIdle {
		t.Fatalf("expected idle, got %s", s)
	}
	fn, ch := collect()
	r.Run(text("q"), fn)
	if s := state(); s != StateFetching {
		t.Fatalf("expected fetching, got %s", s)
	}
	close(gate)
	await(t, ch)
	if s := state(); s != StateDone {
		t.Fatalf("expected done, got %s", s)
	}
	r.Cancel()
	if s := state(); s != StateDone {
		t.Fatalf("cancel must not touch a finished session, got %s", s)
	}
}

func TestCompletionMayStartNewRun(t *testing.T) {
	store := newMockStore()
	store.script("a", page{titles: []string{"A"}})
	store.script("b", page{titles: []string{"B"}})
	r := New(store, DefaultOptions())
	defer r.Close()

	fn, ch := collect()
	r.Run(text("a"), func(recs []record.Record, err error) {
		r.Run(text("b"), fn)
	})
	res := await(t, ch)
	assertTitles(t, res.records, "B")
}

func TestRunAfterCloseIsIgnored(t *testing.T) {
	store := newMockStore()
	r := New(store, DefaultOptions())
	r.Close()

	fn, ch := collect()
	r.Run(record.All(), fn)
	r.Close()
	if len(ch) != 0 || store.callCount() != 0 {
		t.Fatal("run after close should do nothing")
	}
	if r.Activity().Visible() {
		t.Fatal("activity visible after close")
	}
}

func TestStateTerminal(t *testing.T) {
	for s, want := range map[State]bool{
		StateIdle:       false,
		StateFetching:   false,
		StateDone:       true,
		StateFailed:     true,
		StateSuperseded: true,
	} {
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", s, !want)
		}
	}
}
