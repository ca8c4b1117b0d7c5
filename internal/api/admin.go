package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

const adminChatLogLimit = 100

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	admin, err := s.deps.Store.GetAdmin(r.Context(), req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to load admin", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err != nil || auth.CheckPassword(admin.PasswordHash, req.Password) != nil {
		s.logger.Warn("admin login rejected", "username", req.Username)
		writeError(w, http.StatusUnauthorized, auth.ErrBadCredentials.Error())
		return
	}

	s.deps.Auth.IssueAdmin(w, admin.Username)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) adminLogout(w http.ResponseWriter, r *http.Request) {
	s.deps.Auth.ClearAdmin(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Store.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (s *Server) adminSetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := store.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	email := chi.URLParam(r, "email")
	err = s.deps.Store.SetUserRole(r.Context(), email, role)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to set role", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "email": email, "role": role})
}

func (s *Server) adminChatLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.deps.Store.ListAllConversations(r.Context(), adminChatLogLimit)
	if err != nil {
		s.logger.Error("failed to list chat logs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list chat logs")
		return
	}
	if logs == nil {
		logs = []store.ChatLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chatLogs": logs})
}

type statsResponse struct {
	TotalUsers   int64     `json:"totalUsers"`
	TotalChats   int64     `json:"totalChats"`
	ActiveModels int64     `json:"activeModels"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := s.deps.Store.CountUsers(ctx)
	if err != nil {
		s.statsFailed(w, err)
		return
	}
	chats, err := s.deps.Store.CountConversations(ctx)
	if err != nil {
		s.statsFailed(w, err)
		return
	}
	models, err := s.deps.Store.CountActiveModels(ctx)
	if err != nil {
		s.statsFailed(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store, must-revalidate")
	writeJSON(w, http.StatusOK, statsResponse{
		TotalUsers:   users,
		TotalChats:   chats,
		ActiveModels: models,
		Timestamp:    time.Now().UTC(),
	})
}

func (s *Server) statsFailed(w http.ResponseWriter, err error) {
	s.logger.Error("failed to compute stats", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to fetch stats")
}

func (s *Server) adminModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.Store.ListModels(r.Context())
	if err != nil {
		s.logger.Error("failed to list models", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}
	if models == nil {
		models = []store.Model{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) adminCreateModel(w http.ResponseWriter, r *http.Request) {
	var m store.Model
	if err := decode(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if m.Name == "" || m.Kind == "" {
		writeError(w, http.StatusBadRequest, "name and type are required")
		return
	}
	if m.Config != (store.ModelConfig{}) {
		if err := m.Config.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	created, err := s.deps.Store.CreateModel(r.Context(), m)
	if err != nil {
		s.logger.Error("failed to create model", "name", m.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create model")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) adminModelConfig(w http.ResponseWriter, r *http.Request) {
	var cfg store.ModelConfig
	if err := decode(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	err := s.deps.Store.UpdateModelConfig(r.Context(), id, cfg)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to update model config", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update model")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "config": cfg})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) adminModelStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := store.ModelStatus(req.Status)
	if status != store.ModelActive && status != store.ModelInactive {
		writeError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}

	id := chi.URLParam(r, "id")
	err := s.deps.Store.SetModelStatus(r.Context(), id, status)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to set model status", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update model")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}
