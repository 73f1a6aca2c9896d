package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/antoniostano/onboarding/internal/config"
	"github.com/antoniostano/onboarding/internal/memory"
	"github.com/antoniostano/onboarding/internal/observability"
	"github.com/antoniostano/onboarding/internal/session"
)

// Runner executes one agent turn.
type Runner interface {
	Run(ctx context.Context, userInput, userID string, file []byte) (string, error)
}

type Server struct {
	cfg      config.Config
	agent    Runner
	sessions *session.Store
	log      memory.Store
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, agent Runner, sessions *session.Store, log memory.Store, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Server{
		cfg:      cfg,
		agent:    agent,
		sessions: sessions,
		log:      log,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" || cfg.AllowAnyOrigin() {
					return true
				}
				for _, o := range cfg.AllowedOrigins {
					if o == origin {
						return true
					}
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))
	r.Use(s.countRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/run-agent", s.handleRunAgent)
	r.Get("/v1/agent/ws", s.handleAgentWS)
	r.Get("/v1/sessions/{userID}", s.handleGetSession)
	r.Get("/v1/sessions/{userID}/conversation", s.handleGetConversation)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.agent == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "agent not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"store_mode":  s.storeMode(),
		"known_users": s.knownUsers(),
	})
}

// countRequests labels by route pattern so user ids do not explode cardinality.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics == nil {
			return
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) storeMode() string {
	switch s.log.(type) {
	case nil:
		return "disabled"
	case *memory.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

func (s *Server) knownUsers() int {
	if s.sessions == nil {
		return 0
	}
	return s.sessions.Count()
}
