package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/liamcoop/automations/events"
	"github.com/liamcoop/automations/internal/app"
	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/pool"
	"github.com/liamcoop/automations/rules"
	"github.com/spf13/viper"
)

const slowRequestThreshold = 2 * time.Second

// pinger is satisfied by *sql.DB
type pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	engine      *rules.Engine
	db          pinger
	publisher   message.Publisher
	concurrency int
	logger      *slog.Logger
	router      *chi.Mux
}

// ServerOptions are the optional collaborators of a Server
type ServerOptions struct {
	DB          pinger
	Publisher   message.Publisher
	Concurrency int
	Logger      *slog.Logger
}

func NewServer(engine *rules.Engine, opts ServerOptions) *Server {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		engine:      engine,
		db:          opts.DB,
		publisher:   opts.Publisher,
		concurrency: opts.Concurrency,
		logger:      opts.Logger.With("module", "http"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Get("/{ruleId}", s.handleGetRule)
		r.Patch("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeleteRule)
	})

	r.Post("/api/v1/workflows/run", s.handleRun)
	r.Post("/api/v1/workflows/run-batch", s.handleRunBatch)

	if s.publisher != nil {
		r.Post("/api/v1/events/meetings", s.handlePublishMeeting)
	}

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs every request and feeds the status counters
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		logger.CountHTTPStatus(ww.Status())
		if elapsed > slowRequestThreshold {
			logger.WarnSlowRequest(r.Context(), "method", r.Method, "path", r.URL.Path, "duration", elapsed)
		}
		s.logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	resp := HealthResponse{
		Status: "healthy",
		Engine: map[string]int64{
			"passes":          stats.Passes.Load(),
			"rules_fired":     stats.RulesFired.Load(),
			"action_failures": stats.ActionFailures.Load(),
			"stats_failures":  stats.StatsFailures.Load(),
		},
		Logs:     logger.Snapshot(),
		LogLevel: logger.GetLevel().String(),
	}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error())
		return
	}

	rule := req.toRule()
	if err := s.engine.CreateRule(r.Context(), rule); err != nil {
		handleEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListRules(r.Context())
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	if req.Enabled == nil {
		badRequest(w, r, "enabled is required")
		return
	}

	if err := s.engine.SetRuleEnabled(r.Context(), ruleID, *req.Enabled); err != nil {
		handleEngineError(w, r, err)
		return
	}

	rule, err := s.engine.GetRule(r.Context(), ruleID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRule(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		handleEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error())
		return
	}

	outcome, err := s.engine.Run(r.Context(), req.Context, req.RuleID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req RunBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	if len(req.Meetings) == 0 {
		badRequest(w, r, "meetings must not be empty")
		return
	}

	concurrency := s.concurrency
	if req.Concurrency > 0 && req.Concurrency < concurrency {
		concurrency = req.Concurrency
	}

	type indexed struct {
		index int
		run   RunRequest
	}
	items := make([]indexed, len(req.Meetings))
	for i, m := range req.Meetings {
		items[i] = indexed{index: i, run: m}
	}

	// per-meeting failures are reported in the item so one bad meeting can't fail the batch
	results, err := pool.Run(r.Context(), items, concurrency, func(ctx context.Context, it indexed) (RunBatchItem, error) {
		item := RunBatchItem{Index: it.index}
		outcome, err := s.engine.Run(ctx, it.run.Context, it.run.RuleID)
		if err != nil {
			item.Error = err.Error()
			return item, nil
		}
		item.Outcome = outcome
		return item, nil
	})
	if err != nil {
		internalError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, RunBatchResponse{Results: results})
}

func (s *Server) handlePublishMeeting(w http.ResponseWriter, r *http.Request) {
	var event events.MeetingProcessed
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	if event.MeetingID == "" {
		badRequest(w, r, "meeting_id is required")
		return
	}

	if err := events.PublishMeeting(s.publisher, event); err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"meeting_id": event.MeetingID, "status": "queued"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func run() error {
	cfg, err := config.Load(viper.New(), os.Getenv("AUTOMATIONS_CONFIG"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := logger.Setup(ctx, logger.Options{
		Level:       cfg.LogLevel,
		SampleRate:  cfg.LogSampleRate,
		OTEL:        cfg.OTELEnabled,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		logger.Logger.Warn("invalid log level", "error", err)
	}
	defer logger.Shutdown(context.Background())

	a, err := app.New(ctx, cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	opts := ServerOptions{
		DB:          a.DB,
		Concurrency: cfg.BatchConcurrency,
		Logger:      logger.Logger,
	}
	if a.Bridge != nil {
		opts.Publisher = a.PubSub
		go func() {
			if err := a.Bridge.Run(ctx); err != nil {
				logger.Logger.Error("event bridge stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      NewServer(a.Engine, opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Logger.Info("server starting", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("server shutdown error", "error", err)
	}
	logger.Logger.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		logger.Fatal("automations server exited", "error", err)
	}
}
