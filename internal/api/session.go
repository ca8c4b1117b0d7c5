package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/conversation"
	"github.com/MikeSquared-Agency/debchat/internal/session"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

// caller returns the request's identity, writing a 401 when the request
// carries neither a user nor a guest cookie.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id := auth.FromContext(r.Context())
	if !id.IsAuthenticated() && !id.IsGuest() {
		writeError(w, http.StatusUnauthorized, "sign in or continue as guest")
		return auth.Identity{}, false
	}
	return id, true
}

// reconciler opens the caller's session.
func (s *Server) reconciler(w http.ResponseWriter, r *http.Request) (*session.Reconciler, bool) {
	id, ok := s.caller(w, r)
	if !ok {
		return nil, false
	}
	return s.open(w, r, id)
}

func (s *Server) open(w http.ResponseWriter, r *http.Request, id auth.Identity) (*session.Reconciler, bool) {
	token := s.deps.Auth.ClientToken(w, r)
	rec, err := s.deps.Sessions.Open(r.Context(), token, id)
	if err != nil {
		s.logger.Error("failed to open session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open session")
		return nil, false
	}
	return rec, true
}

// detached returns a context for work the session keeps after the client
// goes away. Sends and deletes settle even when the request is abandoned,
// bounded by SendTimeout.
func (s *Server) detached(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(r.Context())
	if s.deps.SendTimeout > 0 {
		return context.WithTimeout(ctx, s.deps.SendTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec.Snapshot())
}

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w, r)
	if !ok {
		return
	}
	c := rec.StartNewConversation()
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) selectConversation(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w, r)
	if !ok {
		return
	}
	id, err := conversation.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !rec.SelectConversation(id) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, rec.Snapshot())
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w, r)
	if !ok {
		return
	}
	id, err := conversation.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.detached(r)
	defer cancel()
	err = rec.DeleteConversation(ctx, id)
	switch {
	case err == nil:
		if id.IsRemote() {
			s.deps.Sessions.Forget(rec.Identity().Email, id.Value())
		}
		writeJSON(w, http.StatusOK, rec.Snapshot())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, session.ErrConversationBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, "failed to delete conversation")
	}
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Conversation conversation.Conversation `json:"chat"`
	Session      session.Snapshot          `json:"session"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Checked before a session is opened so refused sends allocate nothing.
	if !s.limiter.Allow(limiterKey(id, r)) {
		writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}
	rec, ok := s.open(w, r, id)
	if !ok {
		return
	}

	ctx, cancel := s.detached(r)
	defer cancel()
	c, err := rec.SendMessage(ctx, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sendResponse{Conversation: c, Session: rec.Snapshot()})
	case errors.Is(err, session.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("send failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
	}
}

type modelRequest struct {
	Name string `json:"name"`
}

func (s *Server) selectModel(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.reconciler(w, r)
	if !ok {
		return
	}
	var req modelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := rec.SelectModel(r.Context(), req.Name); err != nil {
		if errors.Is(err, session.ErrUnknownModel) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to select model")
		return
	}
	writeJSON(w, http.StatusOK, rec.Snapshot())
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.Catalog.Models(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}
