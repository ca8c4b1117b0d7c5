package gateway

import (
	"context"
	"log/slog"

	"github.com/MikeSquared-Agency/debchat/internal/store"
)

// Builtin lists the models every deployment offers.
func Builtin() []Model {
	return []Model{
		{Name: "db 1.5", Description: "Fast & lightweight model", Kind: KindEndpoint, Endpoint: "https://thedeba-debai.hf.space/generate"},
		{Name: "NightOWL", Description: "Responsive & lightweight model", Kind: KindEndpoint, Endpoint: "https://thedeba-deb.hf.space/generate"},
		{Name: "Friday", Description: "More accurate, better capabilities", Kind: KindEndpoint, Endpoint: "https://thedeba-friday.hf.space/generate"},
	}
}

// Catalog merges the built-in models with the active registry entries.
// Registry entries shadow built-ins of the same name.
type Catalog struct {
	builtin  []Model
	registry store.Models
	logger   *slog.Logger
}

func NewCatalog(builtin []Model, registry store.Models, logger *slog.Logger) *Catalog {
	return &Catalog{builtin: builtin, registry: registry, logger: logger}
}

func (c *Catalog) Models(ctx context.Context) ([]Model, error) {
	out := make([]Model, 0, len(c.builtin))
	index := make(map[string]int, len(c.builtin))
	for _, m := range c.builtin {
		index[m.Name] = len(out)
		out = append(out, m)
	}
	if c.registry == nil {
		return out, nil
	}

	records, err := c.registry.ListModels(ctx)
	if err != nil {
		c.logger.Warn("model registry unavailable, serving built-in models", "error", err)
		return out, nil
	}
	for _, r := range records {
		if r.Status != store.ModelActive {
			continue
		}
		m := FromRecord(r)
		if i, ok := index[m.Name]; ok {
			out[i] = m
			continue
		}
		index[m.Name] = len(out)
		out = append(out, m)
	}
	return out, nil
}

// Lookup finds a model by display name.
func (c *Catalog) Lookup(ctx context.Context, name string) (Model, bool) {
	models, _ := c.Models(ctx)
	for _, m := range models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}
