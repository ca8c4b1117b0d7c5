package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/conversation"
	"github.com/MikeSquared-Agency/debchat/internal/events"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

// owner returns the signed-in email, writing a 401 for guests and anonymous
// callers. Chat logs are never stored for guests.
func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := auth.FromContext(r.Context())
	if !id.IsAuthenticated() {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return id.Email, true
}

func (s *Server) listChatLogs(w http.ResponseWriter, r *http.Request) {
	email, ok := owner(w, r)
	if !ok {
		return
	}
	logs, err := s.deps.Store.ListConversations(r.Context(), email)
	if err != nil {
		s.logger.Error("failed to list chat logs", "owner", email, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch chat logs")
		return
	}
	if logs == nil {
		logs = []store.ChatLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chatLogs": logs})
}

type chatLogRequest struct {
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title"`
	Messages []conversation.Message `json:"messages"`
}

// saveChatLog creates a chat log, or overwrites one when a store id is given.
func (s *Server) saveChatLog(w http.ResponseWriter, r *http.Request) {
	email, ok := owner(w, r)
	if !ok {
		return
	}
	var req chatLogRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" {
		req.Title = conversation.DefaultTitle
	}
	if req.Messages == nil {
		req.Messages = []conversation.Message{}
	}

	var id conversation.ID
	if req.ID != "" {
		parsed, err := conversation.ParseID(req.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		id = parsed
	}

	var (
		log     store.ChatLog
		err     error
		status  = http.StatusOK
		subject = events.SubjectChatUpdated
	)
	if id.IsRemote() {
		log, err = s.deps.Store.UpdateConversation(r.Context(), email, id.Value(), req.Title, req.Messages)
	} else {
		log, err = s.deps.Store.CreateConversation(r.Context(), email, req.Title, req.Messages)
		status, subject = http.StatusCreated, events.SubjectChatCreated
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to save chat log", "owner", email, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save chat log")
		return
	}

	s.publish(subject, events.ChatEvent{
		Owner:        email,
		ChatID:       log.ID,
		Title:        log.Title,
		MessageCount: len(log.Messages),
		Timestamp:    time.Now().UTC(),
	})
	writeJSON(w, status, map[string]any{"success": true, "chatLog": log})
}

func (s *Server) deleteChatLog(w http.ResponseWriter, r *http.Request) {
	email, ok := owner(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Chat ID is required")
		return
	}

	err := s.deps.Store.DeleteConversation(r.Context(), email, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Chat not found or unauthorized")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete chat log", "owner", email, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete chat")
		return
	}

	s.deps.Sessions.Forget(email, id)
	s.publish(events.SubjectChatDeleted, events.ChatEvent{Owner: email, ChatID: id, Timestamp: time.Now().UTC()})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) publish(subject string, data any) {
	if err := s.deps.Events.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}
