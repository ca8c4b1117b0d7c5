package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/gateway"
)

type completeRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// complete relays one prompt without touching any session state and writes
// the reply as plain text.
func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if !id.IsAuthenticated() && !id.IsGuest() {
		writeError(w, http.StatusUnauthorized, "sign in or continue as guest")
		return
	}
	var req completeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	model, ok := s.pickModel(r, req.Model)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown model")
		return
	}

	reply, err := s.deps.Gateway.Complete(r.Context(), model, req.Prompt)
	if err != nil {
		s.logger.Warn("completion failed", "model", model.Name, "error", err)
		writeError(w, http.StatusBadGateway, "model request failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(reply))
}

func (s *Server) pickModel(r *http.Request, name string) (gateway.Model, bool) {
	if name != "" {
		return s.deps.Catalog.Lookup(r.Context(), name)
	}
	models, err := s.deps.Catalog.Models(r.Context())
	if err != nil || len(models) == 0 {
		return gateway.Model{}, false
	}
	return models[0], true
}
