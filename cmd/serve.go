package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grantscope/advisor/internal/advisor"
	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
	"github.com/grantscope/advisor/internal/render"
	"github.com/grantscope/advisor/internal/store"
)

var (
	servePort    int
	serveData    string
	serveOffline bool
)

const (
	maxInterviewBytes = 1 << 20
	drainTimeout      = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for report generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAdvisor(ctx, envOptions{
			DataPath: serveData,
			Offline:  serveOffline,
			Archive:  cfg.Store.Driver != "" && cfg.Store.Driver != "none",
		})
		if err != nil {
			return err
		}
		defer env.Close()

		srv := newServer(ctx, env.Frame, env.Orchestrator, env.Reports, env.Archive)
		return srv.serve(ctx, cfg.Server.AllowedOrigins, resolvePort(servePort, cfg.Server.Port))
	},
}

// server holds the API's collaborators. Reports run on the server context
// so they outlive the request that started them.
type server struct {
	ctx      context.Context
	frame    *dataset.Frame
	orch     *advisor.Orchestrator
	reports  *advisor.ReportStore
	archive  store.Archive // may be nil
	inflight sync.Map
	wg       sync.WaitGroup
}

func newServer(ctx context.Context, frame *dataset.Frame, orch *advisor.Orchestrator, reports *advisor.ReportStore, archive store.Archive) *server {
	return &server{ctx: ctx, frame: frame, orch: orch, reports: reports, archive: archive}
}

// serve runs the HTTP API until ctx is done, then waits for in-flight
// reports so their archive writes land before the environment closes.
func (s *server) serve(ctx context.Context, origins []string, port int) error {
	err := startServer(ctx, s.routes(origins), port)
	if !s.drain(drainTimeout) {
		zap.L().Warn("in-flight reports still running at exit", zap.Duration("waited", drainTimeout))
	}
	return err
}

// drain blocks until every report goroutine returns or timeout elapses.
// It reports whether all of them finished.
func (s *server) drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *server) routes(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/reports", func(r chi.Router) {
		r.Get("/", s.handleListReports)
		r.Post("/", s.handleCreateReport)
		r.Get("/{id}", s.handleGetReport)
		r.Get("/{id}/progress", s.handleProgress)
		r.Delete("/{id}", s.handleDeleteReport)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rows": s.frame.Len()})
}

func (s *server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var in model.InterviewInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInterviewBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid interview body")
		return
	}
	if in.ProgramArea == "" {
		writeError(w, http.StatusBadRequest, "program_area is required")
		return
	}
	if in.UserRole == "" {
		in.UserRole = model.DefaultUserRole
	}

	reportID := s.orch.ReportID(in, s.frame)
	if _, running := s.inflight.LoadOrStore(reportID, struct{}{}); !running {
		s.wg.Add(1)
		go s.run(reportID, in)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "report_id": reportID})
}

func (s *server) run(reportID string, in model.InterviewInput) {
	defer s.wg.Done()
	defer s.inflight.Delete(reportID)

	log := zap.L().With(zap.String("report_id", reportID))
	bundle, err := s.orch.Run(s.ctx, in, s.frame)
	if err != nil {
		log.Error("report failed", zap.Error(err))
		return
	}
	if s.archive != nil {
		if err := s.archive.Save(s.ctx, reportID, bundle); err != nil {
			log.Warn("report archive failed", zap.Error(err))
		}
	}
	log.Info("report complete", zap.Int("sections", len(bundle.Sections)))
}

func (s *server) handleListReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"reports": s.reports.List()})
}

func (s *server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, ok := s.reports.Progress(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// lookup finds a finished report in memory, then in the archive.
func (s *server) lookup(ctx context.Context, id string) (*model.ReportBundle, bool) {
	if b, ok := s.reports.Get(id); ok {
		return b, true
	}
	if s.archive == nil {
		return nil, false
	}
	b, err := s.archive.Get(ctx, id)
	if err != nil {
		if !eris.Is(err, store.ErrNotFound) {
			zap.L().Warn("archive lookup failed", zap.String("report_id", id), zap.Error(err))
		}
		return nil, false
	}
	return b, true
}

func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format, err := render.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, ok := s.lookup(r.Context(), id)
	if !ok {
		if p, running := s.reports.Progress(id); running && !p.Done {
			writeJSON(w, http.StatusAccepted, p)
			return
		}
		writeError(w, http.StatusNotFound, "report not found")
		return
	}

	var buf bytes.Buffer
	if err := render.Write(&buf, b, format); err != nil {
		zap.L().Error("render report", zap.String("report_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format == render.FormatXLSX {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, id))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed := s.reports.Remove(id)
	if s.archive != nil {
		err := s.archive.Delete(r.Context(), id)
		switch {
		case err == nil:
			removed = true
		case !eris.Is(err, store.ErrNotFound):
			zap.L().Warn("archive delete failed", zap.String("report_id", id), zap.Error(err))
		}
	}
	if !removed {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveData, "data", "", "grants dataset (path or URL) loaded once at startup")
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "skip model calls and use deterministic fallbacks")
	_ = serveCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(serveCmd)
}
