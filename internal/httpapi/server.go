package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"avsync/internal/config"
	"avsync/internal/history"
	"avsync/internal/logging"
	"avsync/internal/notifications"
	"avsync/internal/services"
	"avsync/internal/workflow"
)

// Processor runs uploads through the sync workflow.
type Processor interface {
	Process(ctx context.Context, inputPath, originalFilename string) workflow.Outcome
	Status() workflow.Snapshot
}

// HistoryReader serves the read-only session endpoints.
type HistoryReader interface {
	List(ctx context.Context, limit int, statuses ...history.Status) ([]*history.Session, error)
	Get(ctx context.Context, id int64) (*history.Session, error)
	Iterations(ctx context.Context, sessionID int64) ([]history.Iteration, error)
	Stats(ctx context.Context) (map[history.Status]int, error)
}

// Options collects the server's collaborators. History and Logs may be nil.
type Options struct {
	Config    *config.Config
	Processor Processor
	History   HistoryReader
	Hub       *notifications.Hub
	Logs      *logging.StreamHub
	Logger    *slog.Logger
}

// Server owns the router and, once started, the listener.
type Server struct {
	cfg       *config.Config
	processor Processor
	history   HistoryReader
	hub       *notifications.Hub
	logs      *logging.StreamHub
	logger    *slog.Logger
	router    chi.Router

	listener net.Listener
	server   *http.Server
}

// New builds the router. Config, Processor and Hub are required.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Processor == nil || opts.Hub == nil {
		return nil, errors.New("httpapi: config, processor and hub are required")
	}
	s := &Server{
		cfg:       opts.Config,
		processor: opts.Processor,
		history:   opts.History,
		hub:       opts.Hub,
		logs:      opts.Logs,
		logger:    logging.NewComponentLogger(opts.Logger, "http"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.Server.AllowedOrigins))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.logger, http.StatusOK, map[string]string{"message": "welcome to avsync"})
	})
	r.Post("/process", s.handleProcess)
	r.Get("/download/{filename}", s.handleDownload)
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(s.cfg.Server.APIToken))
		r.Get("/status", s.handleStatus)
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{id}", s.handleSession)
		r.Get("/logs", s.handleLogs)
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured bind address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.Server.Bind)
	if bind == "" {
		return services.Wrap(services.ErrConfiguration, "http", "listen", "server.bind is empty", nil)
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "http server stopped", "http_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check whether another process holds the bind address"),
			)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("http server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "http_listening"),
	)
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("duration", time.Since(started)),
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", logging.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	writeJSON(w, logger, status, map[string]string{"error": message})
}
