package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/events"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	GoogleID string `json:"googleId"`
}

// login is called once the identity provider has vouched for the user. The
// user record is upserted and a signed session cookie issued.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	googleID := strings.TrimSpace(req.GoogleID)
	if googleID == "" {
		writeError(w, http.StatusBadRequest, "googleId is required")
		return
	}

	user, created, err := s.deps.Store.UpsertUser(r.Context(), store.Login{
		Email:    email,
		Name:     req.Name,
		GoogleID: googleID,
	})
	if errors.Is(err, store.ErrEmailTaken) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to upsert user", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}

	s.deps.Auth.IssueSession(w, email)
	s.publish(events.SubjectUserLogin, events.LoginEvent{Email: email, Created: created, Timestamp: time.Now().UTC()})
	s.logger.Info("user signed in", "email", email, "created", created)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.ClientCookie); err == nil {
		s.deps.Sessions.Close(c.Value)
	}
	s.deps.Auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// guest switches the client into guest mode. Any session state held for the
// client is dropped so signed-in conversations do not leak into it.
func (s *Server) guest(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.ClientCookie); err == nil {
		s.deps.Sessions.Close(c.Value)
	}
	s.deps.Auth.IssueGuest(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
