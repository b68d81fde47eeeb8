package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"shelfwatch/internal/event"
	"shelfwatch/internal/service"
	"shelfwatch/internal/source"
	"shelfwatch/internal/storage"
	"shelfwatch/internal/version"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
	maxBodyBytes = 1 << 20
)

// Engine is the service surface the API needs.
type Engine interface {
	ActiveAlerts() []event.Alert
	Acknowledge(ctx context.Context, id string) error
	Freshness(now time.Time) map[string]event.FreshnessRecord
	Stats() service.Stats
}

// Options wires optional collaborators. Push is nil in poll mode, Reader is
// nil when no store is configured.
type Options struct {
	Push     *source.Push
	Reader   storage.Reader
	Gatherer prometheus.Gatherer
}

// Server exposes the JSON API.
type Server struct {
	engine  Engine
	opts    Options
	logger  zerolog.Logger
	started time.Time
	now     func() time.Time
}

// New constructs the API server.
func New(engine Engine, opts Options, logger zerolog.Logger) *Server {
	return &Server{
		engine:  engine,
		opts:    opts,
		logger:  logger.With().Str("component", "api").Logger(),
		started: time.Now(),
		now:     time.Now,
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/snapshots", s.handleIngest)
		r.Get("/alerts/active", s.handleActiveAlerts)
		r.Post("/alerts/{id}/ack", s.handleAcknowledge)
		r.Get("/alerts", s.handleAlertLog)
		r.Get("/sales", s.handleSales)
		r.Get("/freshness", s.handleFreshness)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request served")
	})
}

type healthResponse struct {
	Status        string     `json:"status"`
	Version       string     `json:"version"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	LastTick      *time.Time `json:"last_tick,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       version.Version,
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		LastTick:      stats.LastTick,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.opts.Push == nil {
		writeError(w, http.StatusConflict, "push ingest is disabled in poll mode")
		return
	}
	var payload source.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	reading, err := payload.Reading(s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.opts.Push.Submit(reading)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"entities": len(reading.Counts),
	})
}

// alertView flattens an alert variant for JSON.
type alertView struct {
	ID        string         `json:"id"`
	Kind      event.Kind     `json:"kind"`
	Entity    string         `json:"entity"`
	Severity  event.Severity `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Details   event.Alert    `json:"details"`
}

func newAlertView(a event.Alert) alertView {
	return alertView{
		ID:        a.ID(),
		Kind:      a.Kind(),
		Entity:    a.EntityName(),
		Severity:  a.Level(),
		Message:   a.Message(),
		Timestamp: event.Time(a.At()),
		Details:   a,
	}
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	active := s.engine.ActiveAlerts()
	out := make([]alertView, 0, len(active))
	for _, a := range active {
		out = append(out, newAlertView(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Acknowledge(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.logger.Error().Err(err).Str("alert_id", id).Msg("acknowledge failed")
		writeError(w, http.StatusInternalServerError, "acknowledge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"acknowledged": id})
}

func (s *Server) handleAlertLog(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reader == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := storage.AlertQuery{Limit: limit, Kind: event.Kind(q.Get("kind")), Entity: q.Get("entity")}
	if raw := q.Get("acknowledged"); raw != "" {
		acked, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "acknowledged must be a boolean")
			return
		}
		query.Acknowledged = &acked
	}
	records, err := s.opts.Reader.ListAlerts(r.Context(), query)
	if err != nil {
		s.logger.Error().Err(err).Msg("list alerts failed")
		writeError(w, http.StatusInternalServerError, "list alerts failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reader == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := storage.SaleQuery{Limit: limit, Entity: q.Get("entity")}
	if query.From, err = parseTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from must be RFC3339")
		return
	}
	if query.To, err = parseTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to must be RFC3339")
		return
	}
	records, err := s.opts.Reader.ListSales(r.Context(), query)
	if err != nil {
		s.logger.Error().Err(err).Msg("list sales failed")
		writeError(w, http.StatusInternalServerError, "list sales failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	records := s.engine.Freshness(s.now())
	out := make([]event.FreshnessRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
