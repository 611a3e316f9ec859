package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/WessleyAI/kitchensink/engine/account"
	"github.com/WessleyAI/kitchensink/engine/asset"
	"github.com/WessleyAI/kitchensink/engine/database"
	"github.com/WessleyAI/kitchensink/engine/query"
	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/engine/subscription"
	"github.com/WessleyAI/kitchensink/pkg/metrics"
	"github.com/WessleyAI/kitchensink/pkg/mid"
	"github.com/WessleyAI/kitchensink/pkg/resilience"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const maxBody = 16 << 20

// server holds the HTTP handlers of the API.
type server struct {
	svc     *services
	queries *metrics.Query
	logger  *slog.Logger
}

// newHandler builds the routed, middleware-wrapped API handler. Its
// Prometheus collectors are served on /metrics.
func newHandler(svc *services, cfg config, logger *slog.Logger) http.Handler {
	reg := metrics.NewRegistry()
	s := &server{svc: svc, queries: metrics.NewQuery(reg), logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/types", s.handleTypes)
	mux.HandleFunc("POST /api/records", s.handleSaveRecord)
	mux.HandleFunc("GET /api/records/{id}", s.handleGetRecord)
	mux.HandleFunc("DELETE /api/records/{id}", s.handleDeleteRecord)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("POST /api/subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("DELETE /api/subscriptions/{id}", s.handleDeleteSubscription)
	mux.HandleFunc("GET /api/users/me", s.handleMe)
	mux.HandleFunc("PUT /api/users/me/avatar", s.handleAvatar)
	mux.HandleFunc("GET /api/users", s.handleDiscover)
	mux.HandleFunc("GET /api/assets/{key}", s.handleAsset)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.Rate, Burst: cfg.Burst})
	return mid.Chain(mux,
		mid.Recover(logger),
		mid.OTel("kitchensink"),
		mid.Metrics(metrics.NewHTTP(reg)),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(limiter, time.Second),
	)
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd.Context(), func(s *services) error {
				return serve(cmd.Context(), a.cfg, newHandler(s, a.cfg, a.logger), a.logger)
			})
		},
	}
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, cfg config, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api server starting", "listen", cfg.Listen, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

// --- Helpers ---

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *record.ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, database.ErrInvalidCursor),
		errors.Is(err, account.ErrInvalidImage),
		errors.Is(err, asset.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, account.ErrNotFound),
		errors.Is(err, asset.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrNoAccount):
		return http.StatusUnauthorized
	case errors.Is(err, account.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, query.ErrQueryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return record.NewValidationError("body", "", errors.Join(record.ErrInvalidValue, err))
	}
	return nil
}

// --- Handlers ---

type healthBody struct {
	Status   string `json:"status"`
	Breaker  string `json:"breaker"`
	Activity bool   `json:"network_activity"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{
		Status:   "ok",
		Breaker:  s.svc.store.Breaker().State().String(),
		Activity: s.svc.activity.Visible(),
	})
}

func (s *server) handleTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.svc.db.RecordTypes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if types == nil {
		types = []string{}
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *server) handleSaveRecord(w http.ResponseWriter, r *http.Request) {
	var rec record.Record
	if err := decodeBody(r, &rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.registry.Guard(r.Context(), rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.svc.db.Save(r.Context(), rec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if saved.Version == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (s *server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.db.Fetch(r.Context(), record.ID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.db.Delete(r.Context(), record.ID(r.PathValue("id"))); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	RecordType string        `json:"record_type,omitempty"`
	Filter     record.Filter `json:"filter"`
}

// queryResponse carries the records of a session. A failed session still
// returns the records accumulated before the failing page.
type queryResponse struct {
	Records []record.Record `json:"records"`
	Error   string          `json:"error,omitempty"`
	Pages   int             `json:"pages,omitempty"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RecordType == "" {
		req.RecordType = record.MovieType
	}
	if err := (record.Query{RecordType: req.RecordType, Filter: req.Filter}).Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	records, err := runQuery(r.Context(), s.svc.db, req.Filter, query.Options{
		RecordType: req.RecordType,
		Activity:   s.svc.activity,
		Metrics:    s.queries,
		Logger:     s.logger,
	})
	if r.Context().Err() != nil {
		s.logger.Debug("query abandoned by client", "record_type", req.RecordType)
		return
	}
	resp := queryResponse{Records: records}
	if resp.Records == nil {
		resp.Records = []record.Record{}
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		resp.Error = err.Error()
		var qe *query.QueryError
		if errors.As(err, &qe) {
			resp.Pages = qe.Pages
		}
		s.logger.Warn("query failed", "record_type", req.RecordType, "records", len(resp.Records), "err", err)
	}
	writeJSON(w, status, resp)
}

func (s *server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.svc.registry.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []subscription.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// handleCreateSubscription stores the posted subscription. An empty body
// creates the default new-movie subscription.
func (s *server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	sub := subscription.DefaultMovie()
	if r.ContentLength != 0 {
		var posted subscription.Subscription
		if err := decodeBody(r, &posted); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, r, err)
			return
		} else if err == nil {
			sub = posted
		}
	}
	saved, err := s.svc.registry.Save(r.Context(), sub)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	me, err := describeAccount(r.Context(), s.svc.accounts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

func (s *server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.accounts.DiscoverAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// avatarResponse reports the avatar in effect after an update attempt.
type avatarResponse struct {
	Avatar record.Asset `json:"avatar"`
	Error  string       `json:"error,omitempty"`
}

func (s *server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.accounts.UpdateAvatar(r.Context(), http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSON(w, statusFor(err), avatarResponse{Avatar: a, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, avatarResponse{Avatar: a})
}

func (s *server) handleAsset(w http.ResponseWriter, r *http.Request) {
	rc, meta, err := s.svc.assets.Open(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debug("asset copy interrupted", "key", meta.Key, "err", err)
	}
}
