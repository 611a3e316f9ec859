// Package query runs paginated searches against a remote record store.
//
// A Runner owns at most one live session. Run supersedes whatever session is
// outstanding, fetches the first page with the filter and every following
// page with the cursor the store returned, and delivers the accumulated
// records once through the completion callback. All session state is mutated
// on a single Executor; fetches run on their own goroutine and post their
// results back to it.
package query

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/pkg/activity"
	"github.com/WessleyAI/kitchensink/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Store is the remote record store consumed by the runner. Implementations
// call each sequentially, once per fetched record, before returning.
type Store interface {
	Search(ctx context.Context, q record.Query, each func(record.Record)) (record.Cursor, error)
	Continue(ctx context.Context, cursor record.Cursor, each func(record.Record)) (record.Cursor, error)
}

// CompletionFunc receives the outcome of a session. On failure records holds
// whatever was accumulated before the failing page.
type CompletionFunc func(records []record.Record, err error)

// Options configures a Runner.
type Options struct {
	// RecordType is searched by every Run. Defaults to record.MovieType.
	RecordType string
	// Executor coordinates session state. Defaults to a Loop owned by the runner.
	Executor Executor
	// Activity is the shared network activity indicator. Optional.
	Activity *activity.Indicator
	Metrics  *metrics.Query
	Logger   *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{RecordType: record.MovieType}
}

const tracerName = "engine/query"

// Runner is the paginated query runner.
type Runner struct {
	store    Store
	opts     Options
	exec     Executor
	loop     *Loop // non-nil when the runner owns its executor
	logger   *slog.Logger
	activity *activity.Indicator

	gen     atomic.Uint64
	fetches sync.WaitGroup
	closed  atomic.Bool
	once    sync.Once

	// Owned by the executor.
	current *session
}

// New creates a Runner over store.
func New(store Store, opts Options) *Runner {
	if opts.RecordType == "" {
		opts.RecordType = record.MovieType
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Activity == nil {
		opts.Activity = activity.New()
	}
	r := &Runner{
		store:    store,
		opts:     opts,
		exec:     opts.Executor,
		logger:   opts.Logger,
		activity: opts.Activity,
	}
	if r.exec == nil {
		r.loop = NewLoop()
		r.exec = r.loop
	}
	return r
}

// Activity returns the indicator toggled by this runner's sessions.
func (r *Runner) Activity() *activity.Indicator { return r.activity }

// Run starts a new session for filter and returns immediately. A session
// still outstanding is superseded and its onComplete is never called.
// onComplete runs on the runner's executor exactly once unless the new
// session is itself superseded or cancelled.
func (r *Runner) Run(filter record.Filter, onComplete CompletionFunc) {
	if r.closed.Load() {
		return
	}
	gen := r.gen.Add(1)
	r.activity.Begin()
	q := record.Query{RecordType: r.opts.RecordType, Filter: filter}
	r.exec.Post(func() { r.start(gen, q, onComplete) })
}

// Cancel supersedes the outstanding session, if any, without delivering it.
func (r *Runner) Cancel() {
	r.gen.Add(1)
	r.exec.Post(func() { r.supersedeCurrent() })
}

// State reports the state of the most recent session. It must be called on
// the executor.
func (r *Runner) State() State {
	if r.current == nil {
		return StateIdle
	}
	return r.current.state
}

// Close cancels the outstanding session, waits for in-flight fetches to
// return and stops the owned executor. It must not be called from the
// executor.
func (r *Runner) Close() {
	r.once.Do(func() {
		r.closed.Store(true)
		r.gen.Add(1)
		done := make(chan struct{})
		r.exec.Post(func() {
			r.supersedeCurrent()
			close(done)
		})
		<-done
		r.fetches.Wait()
		if r.loop != nil {
			r.loop.Close()
		}
	})
}

// start runs on the executor.
func (r *Runner) start(gen uint64, q record.Query, onComplete CompletionFunc) {
	r.supersedeCurrent()

	if gen != r.gen.Load() || r.closed.Load() {
		// Superseded before it began; nothing was fetched.
		r.activity.End()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		gen:        gen,
		query:      q,
		state:      StateIdle,
		ctx:        ctx,
		cancel:     cancel,
		onComplete: onComplete,
		started:    time.Now(),
	}
	r.current = s
	r.opts.Metrics.Started()
	r.logger.Debug("query session started", "session", gen, "record_type", q.RecordType, "filter", q.Filter.String())
	r.fetch(s, record.Cursor{})
}

// fetch issues the next page request for s. Runs on the executor.
func (r *Runner) fetch(s *session, cursor record.Cursor) {
	s.state = StateFetching
	s.cursor = cursor
	r.fetches.Add(1)
	go func() {
		defer r.fetches.Done()

		ctx, span := otel.Tracer(tracerName).Start(s.ctx, "query.page")
		span.SetAttributes(
			attribute.String("record_type", s.query.RecordType),
			attribute.Int64("session", int64(s.gen)),
			attribute.Bool("continuation", !cursor.IsZero()),
		)

		each := func(rec record.Record) {
			r.exec.Post(func() { r.onRecord(s, rec) })
		}
		var (
			next record.Cursor
			err  error
		)
		if cursor.IsZero() {
			next, err = r.store.Search(ctx, s.query, each)
		} else {
			next, err = r.store.Continue(ctx, cursor, each)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		r.exec.Post(func() { r.onPage(s, next, err) })
	}()
}

func (r *Runner) onRecord(s *session, rec record.Record) {
	if !r.live(s) {
		return
	}
	s.records = append(s.records, rec)
	r.opts.Metrics.Record()
}

func (r *Runner) onPage(s *session, next record.Cursor, err error) {
	if !r.live(s) {
		return
	}
	s.pages++
	r.opts.Metrics.Page()

	if err != nil {
		r.finish(s, StateFailed, &QueryError{Cause: err, Pages: s.pages})
		return
	}
	if !next.IsZero() {
		r.fetch(s, next)
		return
	}
	r.finish(s, StateDone, nil)
}

// live reports whether events for s may still mutate it.
func (r *Runner) live(s *session) bool {
	return s == r.current && s.state == StateFetching && s.gen == r.gen.Load()
}

func (r *Runner) finish(s *session, state State, err error) {
	s.state = state
	s.cancel()
	records := s.records
	s.records = nil
	r.activity.End()
	r.opts.Metrics.Finished(state.String(), s.started)

	if err != nil {
		r.logger.Warn("query session failed", "session", s.gen, "pages", s.pages, "records", len(records), "err", err)
	} else {
		r.logger.Debug("query session done", "session", s.gen, "pages", s.pages, "records", len(records))
	}
	if s.onComplete != nil {
		s.onComplete(records, err)
	}
}

// supersedeCurrent discards the outstanding session. Runs on the executor.
func (r *Runner) supersedeCurrent() {
	s := r.current
	if s == nil || s.state.Terminal() {
		return
	}
	s.state = StateSuperseded
	s.cancel()
	s.records = nil
	r.activity.End()
	r.opts.Metrics.Finished(StateSuperseded.String(), s.started)
	r.logger.Debug("query session superseded", "session", s.gen, "pages", s.pages)
}
