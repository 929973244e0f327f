// Package admin serves the broker's operational HTTP API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/connection"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/dispatcher"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/session"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/topic"
)

const maxBodySize = 1 << 20

type Server struct {
	registry    *session.Registry
	dispatcher  *dispatcher.Dispatcher
	connections *connection.ConnectionManager
	startedAt   time.Time
	httpServer  *http.Server
}

func NewServer(registry *session.Registry, d *dispatcher.Dispatcher, connections *connection.ConnectionManager) *Server {
	s := &Server{
		registry:    registry,
		dispatcher:  d,
		connections: connections,
		startedAt:   time.Now(),
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/connections", s.handleListConnections)
		r.Post("/publish", s.handlePublish)
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", s.handleListClients)
			r.Get("/{id}", s.handleGetClient)
			r.Delete("/{id}", s.handleDeleteClient)
		})
	})
	return r
}

// Serve runs the HTTP API on ln until Invoke shuts it down.
func (s *Server) Serve(ln net.Listener) error {
	logger.InfoF("Admin HTTP Server Listen On %s", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Invoke(ctx context.Context) error {
	logger.InfoF("Shutting down admin HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type healthResponse struct {
	Status      string `json:"status"`
	Started     string `json:"started"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Started:     humanize.Time(s.startedAt),
		Sessions:    s.registry.Stats().Sessions,
		Connections: s.connections.Count(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connections": s.connections.List()})
}

func (s *Server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"clients": s.registry.List()})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "client not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.registry.Purge(id) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "client not found")
		return
	}
	logger.InfoF("Client %s removed through admin API", id)
	w.WriteHeader(http.StatusNoContent)
}

// PublishRequest is the body of POST /api/v1/publish.
type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	QoS     byte   `json:"qos"`
	Sender  string `json:"sender"`
}

type PublishResponse struct {
	Delivered int `json:"delivered"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Sender == "" {
		req.Sender = "admin"
	}

	delivered, err := s.dispatcher.Inject(req.Topic, []byte(req.Payload), req.QoS, req.Sender)
	switch {
	case errors.Is(err, topic.ErrTopicInvalid), errors.Is(err, dispatcher.ErrInvalidQoS):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, PublishResponse{Delivered: delivered})
}
