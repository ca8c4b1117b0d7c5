package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/conversation"
	"github.com/MikeSquared-Agency/debchat/internal/gateway"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

type fakeGateway struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	prompts []string
	models  []string
	block   chan struct{}
	entered chan struct{}
}

func (g *fakeGateway) Complete(ctx context.Context, m gateway.Model, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.models = append(g.models, m.Name)
	block, entered := g.block, g.entered
	reply, err := g.reply, g.err
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return reply, err
}

type fakeStore struct {
	mu        sync.Mutex
	logs      map[string]store.ChatLog
	order     []string
	nextID    []string
	seq       int
	creates   int
	updates   int
	deletes   int
	lists     int
	createErr error
	updateErr error
	deleteErr error
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{logs: make(map[string]store.ChatLog)}
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates + s.updates + s.deletes + s.lists
}

func (s *fakeStore) seed(owner, id, title string, createdAt time.Time, msgs ...conversation.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[id] = store.ChatLog{ID: id, Owner: owner, Title: title, Messages: msgs, CreatedAt: createdAt}
	s.order = append(s.order, id)
}

func (s *fakeStore) CreateConversation(_ context.Context, owner, title string, msgs []conversation.Message) (store.ChatLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.createErr != nil {
		return store.ChatLog{}, s.createErr
	}
	var id string
	if len(s.nextID) > 0 {
		id, s.nextID = s.nextID[0], s.nextID[1:]
	} else {
		s.seq++
		id = fmt.Sprintf("remote-%d", s.seq)
	}
	l := store.ChatLog{ID: id, Owner: owner, Title: title, Messages: conversation.CloneMessages(msgs), CreatedAt: time.Now()}
	s.logs[id] = l
	s.order = append(s.order, id)
	return l, nil
}

func (s *fakeStore) UpdateConversation(_ context.Context, owner, id, title string, msgs []conversation.Message) (store.ChatLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return store.ChatLog{}, s.updateErr
	}
	l, ok := s.logs[id]
	if !ok || l.Owner != owner {
		return store.ChatLog{}, store.ErrNotFound
	}
	l.Title = title
	l.Messages = conversation.CloneMessages(msgs)
	s.logs[id] = l
	return l, nil
}

func (s *fakeStore) ListConversations(_ context.Context, owner string) ([]store.ChatLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []store.ChatLog
	for i := len(s.order) - 1; i >= 0; i-- {
		if l, ok := s.logs[s.order[i]]; ok && l.Owner == owner {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteConversation(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	l, ok := s.logs[id]
	if !ok || l.Owner != owner {
		return store.ErrNotFound
	}
	delete(s.logs, id)
	return nil
}

func (s *fakeStore) get(id string) (store.ChatLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	return l, ok
}

type staticCatalog []gateway.Model

func (c staticCatalog) Models(context.Context) ([]gateway.Model, error) { return c, nil }

var testModels = staticCatalog{
	{Name: "db 1.5", Kind: gateway.KindEndpoint},
	{Name: "Friday", Kind: gateway.KindEndpoint},
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

const owner = "user@example.com"

func newTestReconciler(t interface{ Fatalf(string, ...any) }, id auth.Identity, gw *fakeGateway, st *fakeStore) (*Reconciler, *recordingPublisher) {
	pub := &recordingPublisher{}
	r, err := New(id, gw, st, testModels, pub, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	r.Load(context.Background())
	return r, pub
}
