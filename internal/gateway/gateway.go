// Package gateway relays a prompt to a remote model and returns its reply as
// plain text. Each model kind has its own provider; Router picks one.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/debchat/internal/store"
)

const (
	KindEndpoint  = "endpoint"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

var (
	ErrUnsupportedKind = errors.New("unsupported model kind")
	ErrEmptyReply      = errors.New("empty reply")
)

// Model describes where and how to send a prompt.
type Model struct {
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Kind          string  `json:"kind"`
	Endpoint      string  `json:"-"`
	ProviderModel string  `json:"-"`
	Temperature   float64 `json:"-"`
	MaxTokens     int     `json:"-"`
}

// FromRecord converts a registry entry into a routable model.
func FromRecord(m store.Model) Model {
	return Model{
		Name:          m.Name,
		Description:   m.Description,
		Kind:          m.Kind,
		Endpoint:      m.Endpoint,
		ProviderModel: m.ProviderModel,
		Temperature:   m.Config.Temperature,
		MaxTokens:     m.Config.MaxTokens,
	}
}

type Provider interface {
	Complete(ctx context.Context, m Model, prompt string) (string, error)
}

// Router dispatches by Model.Kind.
type Router struct {
	providers map[string]Provider
}

func NewRouter() *Router {
	return &Router{providers: make(map[string]Provider)}
}

func (r *Router) Register(kind string, p Provider) {
	r.providers[kind] = p
}

func (r *Router) Complete(ctx context.Context, m Model, prompt string) (string, error) {
	p, ok := r.providers[m.Kind]
	if !ok {
		return "", fmt.Errorf("%w: %q (model %q)", ErrUnsupportedKind, m.Kind, m.Name)
	}
	reply, err := p.Complete(ctx, m, prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", m.Name, err)
	}
	if reply == "" {
		return "", fmt.Errorf("%s: %w", m.Name, ErrEmptyReply)
	}
	return reply, nil
}
