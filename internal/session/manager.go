package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/conversation"
	"github.com/MikeSquared-Agency/debchat/internal/events"
)

// Manager keeps one Reconciler per client session token.
type Manager struct {
	gateway Gateway
	store   ConversationStore
	catalog Catalog
	events  events.Publisher
	logger  *slog.Logger
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Reconciler
}

func NewManager(gw Gateway, st ConversationStore, cat Catalog, pub events.Publisher, idleTTL time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		gateway:  gw,
		store:    st,
		catalog:  cat,
		events:   pub,
		logger:   logger,
		idleTTL:  idleTTL,
		sessions: make(map[string]*Reconciler),
	}
}

// Open returns the reconciler for token, creating and loading one when the
// token is new or its identity changed.
func (m *Manager) Open(ctx context.Context, token string, id auth.Identity) (*Reconciler, error) {
	m.mu.Lock()
	if r, ok := m.sessions[token]; ok && r.Identity() == id {
		m.mu.Unlock()
		return r, nil
	}
	m.mu.Unlock()

	r, err := New(id, m.gateway, m.store, m.catalog, m.events, m.logger)
	if err != nil {
		return nil, err
	}
	r.Load(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request for the same token may have won the race.
	if existing, ok := m.sessions[token]; ok && existing.Identity() == id {
		return existing, nil
	}
	m.sessions[token] = r
	m.logger.Info("session opened", "identity", id.Kind.String(), "owner", id.Email)
	return r, nil
}

func (m *Manager) Get(token string) (*Reconciler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[token]
	return r, ok
}

// Close drops the session. Guest conversations go with it.
func (m *Manager) Close(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// Forget removes a deleted stored conversation from every session the owner
// has open and returns how many sessions changed.
func (m *Manager) Forget(owner, chatID string) int {
	if owner == "" || chatID == "" {
		return 0
	}
	id := conversation.Remote(chatID)

	m.mu.Lock()
	var open []*Reconciler
	for _, r := range m.sessions {
		if who := r.Identity(); who.IsAuthenticated() && who.Email == owner {
			open = append(open, r)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, r := range open {
		if r.Forget(id) {
			n++
		}
	}
	return n
}

// HandleChatDeleted is the debchat.chat.deleted consumer.
func (m *Manager) HandleChatDeleted(evt events.ChatEvent) {
	if n := m.Forget(evt.Owner, evt.ChatID); n > 0 {
		m.logger.Info("dropped deleted conversation from open sessions", "owner", evt.Owner, "chat_id", evt.ChatID, "sessions", n)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap drops idle sessions unused since before now-idleTTL. Sessions with a
// send in flight are kept.
func (m *Manager) Reap(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for token, r := range m.sessions {
		last, idle := r.idleSince()
		if idle && now.Sub(last) > m.idleTTL {
			delete(m.sessions, token)
			n++
		}
	}
	return n
}

// Run reaps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTTL <= 0 {
		return
	}
	interval := m.idleTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Reap(now); n > 0 {
				m.logger.Info("reaped idle sessions", "count", n)
			}
		}
	}
}
