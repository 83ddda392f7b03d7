// Package server exposes the layer sinks over a small read-only HTTP API.
//
// Routes:
//
//	GET /healthz                                  liveness
//	GET /api/layers                               layer names
//	GET /api/layers/{layer}/tables                table names in a layer
//	GET /api/layers/{layer}/tables/{table}        table content as JSON
//	GET /api/layers/{layer}/tables/{table}?format=csv
//
// Table requests accept limit (rows, default 1000) and offset.
package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"medallion/internal/storage"
	"medallion/internal/table"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultLimit caps the rows returned when the request names no limit.
const DefaultLimit = 1000

// Config controls server startup.
type Config struct {
	Addr string
}

// Server serves read-only views of named sinks.
type Server struct {
	cfg    Config
	router *chi.Mux
	sinks  map[string]storage.Sink
	order  []string
	log    *slog.Logger
}

// New builds a Server over sinks, keyed by layer name. Layers are listed in
// the order given by order; sinks missing from order are not served.
func New(cfg Config, sinks map[string]storage.Sink, order []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, router: chi.NewRouter(), sinks: sinks, log: logger}
	for _, l := range order {
		if sinks[l] != nil {
			s.order = append(s.order, l)
		}
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http server listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	s.router.Route("/api/layers", func(r chi.Router) {
		r.Get("/", s.handleLayers)
		r.Get("/{layer}/tables", s.handleTables)
		r.Get("/{layer}/tables/{table}", s.handleTable)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int, code string) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request error",
			"path", r.URL.Path,
			"status", status,
			"err", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) sink(w http.ResponseWriter, r *http.Request) (storage.Sink, bool) {
	layer := chi.URLParam(r, "layer")
	if !slices.Contains(s.order, layer) {
		s.respondError(w, r, fmt.Errorf("unknown layer %q", layer), http.StatusNotFound, "unknown_layer")
		return nil, false
	}
	return s.sinks[layer], true
}

func (s *Server) handleLayers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"layers": s.order})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	sink, ok := s.sink(w, r)
	if !ok {
		return
	}
	names, err := sink.List(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError, "storage")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tables": names})
}

// tableResponse is the JSON form of a table page.
type tableResponse struct {
	Name      string         `json:"name"`
	Columns   []table.Column `json:"columns"`
	TotalRows int            `json:"total_rows"`
	Offset    int            `json:"offset"`
	Rows      [][]any        `json:"rows"`
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	sink, ok := s.sink(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), DefaultLimit)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("limit: %w", err), http.StatusBadRequest, "bad_request")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("offset: %w", err), http.StatusBadRequest, "bad_request")
		return
	}

	name := chi.URLParam(r, "table")
	t, err := sink.Read(r.Context(), name)
	if errors.Is(err, storage.ErrTableNotFound) {
		s.respondError(w, r, err, http.StatusNotFound, "table_not_found")
		return
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError, "storage")
		return
	}

	lo := min(offset, t.RowCount())
	hi := min(lo+limit, t.RowCount())
	idx := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		idx = append(idx, i)
	}
	page := t.Take(idx)

	switch q.Get("format") {
	case "", "json":
		rows := page.Rows()
		if rows == nil {
			rows = [][]any{}
		}
		writeJSON(w, http.StatusOK, tableResponse{
			Name:      name,
			Columns:   t.Columns(),
			TotalRows: t.RowCount(),
			Offset:    lo,
			Rows:      rows,
		})
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		cw := csv.NewWriter(w)
		_ = cw.Write(page.ColumnNames())
		rec := make([]string, page.NumColumns())
		for i := 0; i < page.RowCount(); i++ {
			for j := range rec {
				rec[j] = table.FormatValue(page.Value(i, j))
			}
			_ = cw.Write(rec)
		}
		cw.Flush()
	default:
		s.respondError(w, r, fmt.Errorf("unsupported format %q", q.Get("format")), http.StatusBadRequest, "bad_request")
	}
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}
