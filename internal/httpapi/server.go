package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"

	"github.com/tbellini/gizmo/internal/avatar"
	"github.com/tbellini/gizmo/internal/brain"
	"github.com/tbellini/gizmo/internal/config"
	"github.com/tbellini/gizmo/internal/eleven"
	"github.com/tbellini/gizmo/internal/history"
	"github.com/tbellini/gizmo/internal/observability"
	"github.com/tbellini/gizmo/internal/protocol"
	"github.com/tbellini/gizmo/internal/speech"
	"github.com/tbellini/gizmo/internal/turn"
)

// Server wires the relay endpoints around the turn orchestrator and the
// upstream clients.
type Server struct {
	cfg          config.Config
	metrics      *observability.Metrics
	store        history.Store
	adapter      brain.Adapter
	orchestrator *turn.Orchestrator
	selector     *speech.Selector
	coordinator  *avatar.Coordinator
	avatars      *avatar.Client
	sessions     *avatar.Manager
	voice        *eleven.Client
	upgrader     websocket.Upgrader

	eventsMu   sync.Mutex
	eventsSeq  uint64
	eventsPush func(protocol.Event)

	pingInterval time.Duration
}

func New(cfg config.Config, metrics *observability.Metrics, store history.Store, adapter brain.Adapter, orchestrator *turn.Orchestrator, selector *speech.Selector, coordinator *avatar.Coordinator, avatars *avatar.Client, sessions *avatar.Manager, voice *eleven.Client) *Server {
	s := &Server{
		cfg:          cfg,
		metrics:      metrics,
		store:        store,
		adapter:      adapter,
		orchestrator: orchestrator,
		selector:     selector,
		coordinator:  coordinator,
		avatars:      avatars,
		sessions:     sessions,
		voice:        voice,
		pingInterval: eventsPingInterval,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				// Non-browser clients often omit Origin. Allow them.
				return true
			}
			return s.originAllowed(origin)
		},
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowOriginFunc: func(r *http.Request, origin string) bool {
				return s.originAllowed(origin)
			},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Use(httprate.Limit(
			s.cfg.RateLimitPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(s.handleThrottled),
		))

		r.Get("/health", s.handleHealth)
		r.Post("/chat", s.handleChat)
		r.Post("/conversation", s.handleConversation)
		r.Get("/history", s.handleHistory)
		r.Post("/history/clear", s.handleHistoryClear)
		r.Post("/tts/elevenlabs", s.handleTTS)
		r.Post("/tts/elevenlabs-with-timestamps", s.handleTTSWithTimestamps)
		r.Post("/heygen/create-session", s.handleCreateAvatarSession)
		r.Post("/heygen/speak", s.handleAvatarSpeak)
		r.Post("/heygen/close-session", s.handleCloseAvatarSession)
		r.Get("/heygen/avatars", s.handleListAvatars)
		r.Post("/speak", s.handleSpeak)
		r.Post("/speak/stop", s.handleSpeakStop)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Every throttled request gets the same body regardless of endpoint.
func (s *Server) handleThrottled(w http.ResponseWriter, _ *http.Request) {
	if s.metrics != nil {
		s.metrics.ThrottledRequests.Inc()
	}
	respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, please slow down")
}

// originAllowed accepts exact entries from the allowlist plus any origin whose
// host ends with one of the configured suffixes.
func (s *Server) originAllowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range s.cfg.AllowedOriginSuffixes {
		if strings.HasSuffix(host, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
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
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
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

// respondUpstreamError relays a vendor status code when the upstream answered,
// and hides transport failures behind a generic 500.
func (s *Server) respondUpstreamError(w http.ResponseWriter, provider string, err error) {
	var elevenErr *eleven.APIError
	if errors.As(err, &elevenErr) {
		s.countUpstreamError(provider, elevenErr.StatusCode)
		respondError(w, elevenErr.StatusCode, "upstream_error", elevenErr.Message)
		return
	}
	var avatarErr *avatar.APIError
	if errors.As(err, &avatarErr) {
		s.countUpstreamError(provider, avatarErr.StatusCode)
		respondError(w, avatarErr.StatusCode, "upstream_error", avatarErr.Message)
		return
	}
	log.Printf("httpapi: %s request failed: %v", provider, err)
	s.countUpstreamError(provider, http.StatusInternalServerError)
	respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

func (s *Server) countUpstreamError(provider string, status int) {
	if s.metrics == nil {
		return
	}
	s.metrics.UpstreamErrors.WithLabelValues(provider, strconv.Itoa(status)).Inc()
}

func (s *Server) countRelay(endpoint, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RelayRequests.WithLabelValues(endpoint, outcome).Inc()
}
