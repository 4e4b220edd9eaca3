package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/logic"
	"github.com/sweeney/crib-sensor/internal/metrics"
	"github.com/sweeney/crib-sensor/internal/registry"
	"github.com/sweeney/crib-sensor/internal/wire"
)

// HeaderRequestID carries the request id set by the device or generated here.
const HeaderRequestID = "X-Request-ID"

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Server routes HTTP requests to the service and the analytics handlers.
type Server struct {
	svc     *Service
	stats   *Stats
	metrics *metrics.Metrics
	checks  []Check
	logger  *zap.Logger
}

// NewServer creates a server. stats and m may be nil.
func NewServer(svc *Service, stats *Stats, m *metrics.Metrics, checks []Check, logger *zap.Logger) *Server {
	return &Server{
		svc:     svc,
		stats:   stats,
		metrics: m,
		checks:  checks,
		logger:  logger.With(zap.String("component", "http")),
	}
}

// Handler builds the routed handler with panic recovery.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.metrics.Middleware)

	r.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	sensor := r.PathPrefix("/sensor").Subrouter()
	sensor.HandleFunc("/sleep-start", s.handleEvent(logic.EventSleepStart)).Methods(http.MethodPost)
	sensor.HandleFunc("/sleep-end", s.handleEvent(logic.EventSleepEnd)).Methods(http.MethodPost)
	sensor.HandleFunc("/baby-away", s.handleEvent(logic.EventBabyAway)).Methods(http.MethodPost)
	sensor.HandleFunc("/intervention", s.handleIntervention).Methods(http.MethodPost)
	sensor.HandleFunc("/sleep-status/{subject_id}", s.handleSleepStatus).Methods(http.MethodGet)
	sensor.HandleFunc("/cooldown-status/{subject_id}", s.handleCooldownStatus).Methods(http.MethodGet)
	sensor.HandleFunc("/cooldown/{subject_id}", s.handleClearCooldown).Methods(http.MethodDelete)
	sensor.HandleFunc("/sleeping", s.handleSleeping).Methods(http.MethodGet)

	if s.stats != nil {
		stats := r.PathPrefix("/stats").Subrouter()
		stats.HandleFunc("/sleep-blocks", s.stats.handleSleepBlocks).Methods(http.MethodGet)
		stats.HandleFunc("/recent-blocks", s.stats.handleRecentBlocks).Methods(http.MethodGet)
		stats.HandleFunc("/daily-sleep", s.stats.handleDailySleep).Methods(http.MethodGet)
		stats.HandleFunc("/awakenings-by-period", s.stats.handleAwakeningsByPeriod).Methods(http.MethodGet)
	}

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)(r)
}

// NewHTTPServer wraps h with the timeouts crib-server uses.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type ctxKey struct{}

// RequestID returns the id attached by the request-id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		s.logger.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleEvent(kind logic.EventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req wire.SubjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubjectID == "" {
			writeError(w, http.StatusBadRequest, "subject_id is required")
			return
		}
		body, err := s.svc.Apply(r.Context(), kind, req.SubjectID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request) {
	var req wire.InterventionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subject_id is required")
		return
	}
	res, err := s.svc.Intervene(r.Context(), req.SubjectID, req.Action)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSleepStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.SleepStatus(r.Context(), mux.Vars(r)["subject_id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCooldownStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.CooldownStatus(r.Context(), mux.Vars(r)["subject_id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClearCooldown(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["subject_id"]
	cleared, err := s.svc.ClearCooldown(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !cleared {
		writeError(w, http.StatusNotFound, "no active cooldown")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSleeping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Sleeping())
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.HealthResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	res := wire.HealthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for _, c := range s.checks {
		if err := c.Fn(ctx); err != nil {
			res.Checks[c.Name] = err.Error()
			res.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownSubject):
		writeError(w, http.StatusNotFound, "unknown subject")
	case errors.Is(err, logic.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorResponse{Error: msg})
}
