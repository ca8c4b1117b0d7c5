// Package api exposes the chat client intents, the chat log REST surface and
// the admin panel over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/events"
	"github.com/MikeSquared-Agency/debchat/internal/gateway"
	"github.com/MikeSquared-Agency/debchat/internal/session"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

type Catalog interface {
	Models(ctx context.Context) ([]gateway.Model, error)
	Lookup(ctx context.Context, name string) (gateway.Model, bool)
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Store         store.Store
	Sessions      *session.Manager
	Gateway       session.Gateway
	Catalog       Catalog
	Auth          *auth.Authenticator
	Events        events.Publisher
	LoginAPIToken string
	SendPerMinute int
	SendTimeout   time.Duration
	Logger        *slog.Logger
}

type Server struct {
	router    *chi.Mux
	port      int
	http      *http.Server
	deps      Deps
	limiter   *sendLimiter
	logger    *slog.Logger
	startedAt time.Time
}

func NewServer(port int, deps Deps) *Server {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		port:      port,
		deps:      deps,
		limiter:   newSendLimiter(deps.SendPerMinute),
		logger:    deps.Logger,
		startedAt: time.Now(),
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.status)

	router.Group(func(r chi.Router) {
		r.Use(deps.Auth.Middleware)

		// Sign-in is only reachable by a trusted identity provider.
		if deps.LoginAPIToken != "" {
			r.With(bearerAuth(deps.LoginAPIToken)).Post("/api/login", s.login)
		}
		r.Delete("/api/login", s.logout)
		r.Post("/api/guest", s.guest)

		r.Route("/api/session", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/conversations", s.startConversation)
			r.Post("/conversations/{id}/select", s.selectConversation)
			r.Delete("/conversations/{id}", s.deleteConversation)
			r.Post("/messages", s.sendMessage)
			r.Post("/model", s.selectModel)
		})
		r.Get("/api/models", s.listModels)
		r.Post("/api/ai", s.complete)

		r.Route("/api/chatlogs", func(r chi.Router) {
			r.Get("/", s.listChatLogs)
			r.Post("/", s.saveChatLog)
			r.Delete("/", s.deleteChatLog)
		})
	})

	router.Post("/api/admin/session", s.adminLogin)
	router.Delete("/api/admin/session", s.adminLogout)
	router.Route("/api/admin", func(r chi.Router) {
		r.Use(deps.Auth.RequireAdmin)
		r.Get("/users", s.adminUsers)
		r.Post("/users/{email}/role", s.adminSetRole)
		r.Get("/chatlogs", s.adminChatLogs)
		r.Get("/stats", s.adminStats)
		r.Get("/models", s.adminModels)
		r.Post("/models", s.adminCreateModel)
		r.Put("/models/{id}/config", s.adminModelConfig)
		r.Put("/models/{id}/status", s.adminModelStatus)
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run prunes idle rate limit buckets until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.limiter.Run(ctx)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":  "debchat",
		"status":   "ok",
		"sessions": s.deps.Sessions.Len(),
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// bearerAuth guards identity-provider callbacks. An empty token admits
// nobody.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if token == "" || subtle.ConstantTimeCompare(got, []byte("Bearer "+token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
