// Package memory is an in-process store backend for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/debchat/internal/conversation"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

type Store struct {
	mu     sync.RWMutex
	now    func() time.Time
	seq    int64
	chats  map[string]*chatRow
	users  map[string]*store.User
	models map[string]*store.Model
	admins map[string]store.Admin
}

type chatRow struct {
	log store.ChatLog
	seq int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:    time.Now,
		chats:  make(map[string]*chatRow),
		users:  make(map[string]*store.User),
		models: make(map[string]*store.Model),
		admins: make(map[string]store.Admin),
	}
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Close(context.Context) error   { return nil }

func (s *Store) CreateConversation(_ context.Context, owner, title string, msgs []conversation.Message) (store.ChatLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.seq++
	row := &chatRow{
		seq: s.seq,
		log: store.ChatLog{
			ID:        uuid.NewString(),
			Owner:     owner,
			Title:     title,
			Messages:  conversation.CloneMessages(msgs),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	s.chats[row.log.ID] = row
	return cloneLog(row.log), nil
}

func (s *Store) UpdateConversation(_ context.Context, owner, id, title string, msgs []conversation.Message) (store.ChatLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.chats[id]
	if !ok || row.log.Owner != owner {
		return store.ChatLog{}, store.ErrNotFound
	}
	row.log.Title = title
	row.log.Messages = conversation.CloneMessages(msgs)
	row.log.UpdatedAt = s.now().UTC()
	return cloneLog(row.log), nil
}

func (s *Store) ListConversations(_ context.Context, owner string) ([]store.ChatLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*chatRow
	for _, row := range s.chats {
		if row.log.Owner == owner {
			rows = append(rows, row)
		}
	}
	return newestFirst(rows, 0), nil
}

func (s *Store) DeleteConversation(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.chats[id]
	if !ok || row.log.Owner != owner {
		return store.ErrNotFound
	}
	delete(s.chats, id)
	return nil
}

func (s *Store) ListAllConversations(_ context.Context, limit int) ([]store.ChatLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*chatRow, 0, len(s.chats))
	for _, row := range s.chats {
		rows = append(rows, row)
	}
	return newestFirst(rows, limit), nil
}

func (s *Store) CountConversations(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.chats)), nil
}

func (s *Store) UpsertUser(_ context.Context, login store.Login) (store.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if u := s.findUser(login); u != nil {
		if u.Email != login.Email {
			if _, taken := s.users[login.Email]; taken {
				return store.User{}, false, store.ErrEmailTaken
			}
			delete(s.users, u.Email)
			u.Email = login.Email
			s.users[u.Email] = u
		}
		if u.GoogleID == "" {
			u.GoogleID = login.GoogleID
		}
		if login.Name != "" {
			u.Name = login.Name
		}
		u.LastLoginAt = &now
		return *u, false, nil
	}
	u := &store.User{
		ID:          uuid.NewString(),
		Email:       login.Email,
		Name:        login.Name,
		GoogleID:    login.GoogleID,
		Role:        store.RoleUser,
		CreatedAt:   now,
		LastLoginAt: &now,
	}
	s.users[login.Email] = u
	return *u, true, nil
}

func (s *Store) findUser(login store.Login) *store.User {
	if login.GoogleID != "" {
		for _, u := range s.users {
			if u.GoogleID == login.GoogleID {
				return u
			}
		}
	}
	return s.users[login.Email]
}

func (s *Store) ListUsers(context.Context) ([]store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetUserRole(_ context.Context, email string, role store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok {
		return store.ErrNotFound
	}
	u.Role = role
	return nil
}

func (s *Store) CountUsers(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *Store) ListModels(context.Context) ([]store.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Model, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateModel(_ context.Context, m store.Model) (store.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m = store.NormalizeModel(m, s.now().UTC())
	m.ID = uuid.NewString()
	s.models[m.ID] = &m
	return m, nil
}

func (s *Store) UpdateModelConfig(_ context.Context, id string, cfg store.ModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Config = cfg
	m.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) SetModelStatus(_ context.Context, id string, status store.ModelStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) CountActiveModels(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.models {
		if m.Status == store.ModelActive {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetAdmin(_ context.Context, username string) (store.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.admins[username]
	if !ok {
		return store.Admin{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) PutAdmin(_ context.Context, a store.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[a.Username] = a
	return nil
}

func newestFirst(rows []*chatRow, limit int) []store.ChatLog {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].log.CreatedAt.Equal(rows[j].log.CreatedAt) {
			return rows[i].log.CreatedAt.After(rows[j].log.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]store.ChatLog, len(rows))
	for i, row := range rows {
		out[i] = cloneLog(row.log)
	}
	return out
}

func cloneLog(l store.ChatLog) store.ChatLog {
	l.Messages = conversation.CloneMessages(l.Messages)
	return l
}
