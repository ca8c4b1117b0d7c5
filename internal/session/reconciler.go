// Package session keeps one client's conversation list consistent with the
// conversation store while prompts are relayed to a model gateway.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/conversation"
	"github.com/MikeSquared-Agency/debchat/internal/events"
	"github.com/MikeSquared-Agency/debchat/internal/gateway"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

var (
	ErrUnauthenticated  = errors.New("session requires a signed-in user or guest")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrBusy             = errors.New("a message is already being sent")
	ErrConversationBusy = errors.New("conversation has a send in flight")
	ErrUnknownModel     = errors.New("unknown model")
)

type State uint8

const (
	Idle State = iota
	Sending
)

func (s State) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

type Gateway interface {
	Complete(ctx context.Context, m gateway.Model, prompt string) (string, error)
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, owner, title string, msgs []conversation.Message) (store.ChatLog, error)
	UpdateConversation(ctx context.Context, owner, id, title string, msgs []conversation.Message) (store.ChatLog, error)
	ListConversations(ctx context.Context, owner string) ([]store.ChatLog, error)
	DeleteConversation(ctx context.Context, owner, id string) error
}

type Catalog interface {
	Models(ctx context.Context) ([]gateway.Model, error)
}

// Snapshot is a copy of the reconciler's state for rendering.
type Snapshot struct {
	Conversations []conversation.Conversation `json:"chats"`
	ActiveID      conversation.ID             `json:"activeChat"`
	Messages      []conversation.Message      `json:"messages"`
	State         string                      `json:"state"`
	Model         string                      `json:"model"`
	Identity      string                      `json:"identity"`
}

// Reconciler owns the conversation list and the active pointer for one
// client session. The list and pointer are only mutated under mu; external
// calls are made without holding it.
type Reconciler struct {
	identity auth.Identity
	gateway  Gateway
	store    ConversationStore
	catalog  Catalog
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	chats    []conversation.Conversation
	active   conversation.ID
	buffer   []conversation.Message
	state    State
	inflight conversation.ID
	model    gateway.Model
	lastUsed time.Time
}

func New(id auth.Identity, gw Gateway, st ConversationStore, cat Catalog, pub events.Publisher, logger *slog.Logger) (*Reconciler, error) {
	if !id.IsAuthenticated() && !id.IsGuest() {
		return nil, ErrUnauthenticated
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		identity: id,
		gateway:  gw,
		store:    st,
		catalog:  cat,
		events:   pub,
		logger:   logger.With("identity", id.Kind.String(), "owner", id.Email),
		now:      time.Now,
		lastUsed: time.Now(),
	}, nil
}

func (r *Reconciler) Identity() auth.Identity { return r.identity }

// Load seeds the list from the store, newest first, and activates the first
// entry. A failed fetch leaves the list empty. Guests never touch the store.
func (r *Reconciler) Load(ctx context.Context) {
	r.loadDefaultModel(ctx)

	if !r.identity.IsAuthenticated() {
		return
	}
	logs, err := r.store.ListConversations(ctx, r.identity.Email)
	if err != nil {
		r.logger.Error("failed to fetch conversations", "error", err)
		return
	}

	chats := make([]conversation.Conversation, len(logs))
	for i, l := range logs {
		chats[i] = l.Conversation()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = chats
	if len(chats) > 0 {
		r.active = chats[0].ID
		r.buffer = conversation.CloneMessages(chats[0].Messages)
	}
}

func (r *Reconciler) loadDefaultModel(ctx context.Context) {
	if r.catalog == nil {
		return
	}
	models, err := r.catalog.Models(ctx)
	if err != nil || len(models) == 0 {
		r.logger.Warn("no models available", "error", err)
		return
	}
	r.mu.Lock()
	if r.model.Name == "" {
		r.model = models[0]
	}
	r.mu.Unlock()
}

// SelectModel switches the model used by subsequent sends.
func (r *Reconciler) SelectModel(ctx context.Context, name string) error {
	if r.catalog == nil {
		return ErrUnknownModel
	}
	models, err := r.catalog.Models(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models {
		if m.Name == name {
			r.mu.Lock()
			r.model = m
			r.lastUsed = r.now()
			r.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// StartNewConversation inserts an empty conversation at the head of the list
// and makes it active.
func (r *Reconciler) StartNewConversation() conversation.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := conversation.Conversation{
		ID:        conversation.NewLocal(),
		Title:     conversation.DefaultTitle,
		Messages:  []conversation.Message{},
		CreatedAt: r.now().UTC(),
	}
	r.chats = append([]conversation.Conversation{c}, r.chats...)
	r.active = c.ID
	r.buffer = nil
	r.lastUsed = r.now()
	return c.Clone()
}

// SelectConversation activates id. Unknown ids are ignored.
func (r *Reconciler) SelectConversation(id conversation.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.active = id
	r.buffer = conversation.CloneMessages(r.chats[i].Messages)
	r.lastUsed = r.now()
	return true
}

// SendMessage appends text to the active conversation (creating one when
// none is active), relays it to the gateway and persists the result for
// authenticated identities. Gateway failures become a fallback reply; store
// failures are logged and do not alter the returned conversation.
func (r *Reconciler) SendMessage(ctx context.Context, text string) (conversation.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.Conversation{}, ErrEmptyMessage
	}

	target, model, err := r.beginSend(text)
	if err != nil {
		return conversation.Conversation{}, err
	}
	defer r.endSend()

	reply, err := r.gateway.Complete(ctx, model, text)
	if err != nil {
		r.logger.Warn("gateway call failed", "model", model.Name, "error", err)
		reply = conversation.FallbackReply
	}

	snapshot, ok := r.appendReply(reply)
	if !ok {
		return conversation.Conversation{}, fmt.Errorf("conversation %s vanished during send", target)
	}

	if !r.identity.IsAuthenticated() {
		return snapshot, nil
	}
	return r.persist(ctx, snapshot), nil
}

// beginSend performs steps that must be visible before the gateway call:
// the user message is appended and, if nothing is active, a conversation is
// created optimistically.
func (r *Reconciler) beginSend(text string) (conversation.ID, gateway.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Sending {
		return conversation.ID{}, gateway.Model{}, ErrBusy
	}

	r.buffer = append(conversation.CloneMessages(r.buffer), conversation.UserMessage(text))
	title := conversation.DeriveTitle(text)

	i := r.indexOf(r.active)
	if i < 0 {
		c := conversation.Conversation{
			ID:        conversation.NewLocal(),
			Title:     title,
			Messages:  conversation.CloneMessages(r.buffer),
			CreatedAt: r.now().UTC(),
		}
		r.chats = append([]conversation.Conversation{c}, r.chats...)
		r.active = c.ID
	} else {
		c := &r.chats[i]
		c.Messages = conversation.CloneMessages(r.buffer)
		if c.Title == conversation.DefaultTitle || c.Title == "" {
			c.Title = title
		}
	}

	r.state = Sending
	r.inflight = r.active
	r.lastUsed = r.now()
	return r.active, r.model, nil
}

func (r *Reconciler) appendReply(reply string) (conversation.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(r.inflight)
	if i < 0 {
		return conversation.Conversation{}, false
	}
	c := &r.chats[i]
	c.Messages = append(c.Messages, conversation.ModelMessage(reply))
	if r.active == c.ID {
		r.buffer = conversation.CloneMessages(c.Messages)
	}
	return c.Clone(), true
}

func (r *Reconciler) endSend() {
	r.mu.Lock()
	r.state = Idle
	r.inflight = conversation.ID{}
	r.lastUsed = r.now()
	r.mu.Unlock()
}

// persist writes c to the store. A local id is created and then replaced in
// place by the store-assigned id; a remote id is updated.
func (r *Reconciler) persist(ctx context.Context, c conversation.Conversation) conversation.Conversation {
	owner := r.identity.Email

	if c.ID.IsLocal() {
		log, err := r.store.CreateConversation(ctx, owner, c.Title, c.Messages)
		if err != nil {
			r.persistFailed(c, err)
			return c
		}
		remote := conversation.Remote(log.ID)
		r.Reconcile(c.ID, remote, log.Title)
		r.publish(events.SubjectChatCreated, log.ID, log.Title, len(log.Messages))
		c.ID = remote
		if log.Title != "" {
			c.Title = log.Title
		}
		return c
	}

	log, err := r.store.UpdateConversation(ctx, owner, c.ID.Value(), c.Title, c.Messages)
	if err != nil {
		r.persistFailed(c, err)
		return c
	}
	r.publish(events.SubjectChatUpdated, log.ID, log.Title, len(log.Messages))
	return c
}

func (r *Reconciler) persistFailed(c conversation.Conversation, err error) {
	r.logger.Error("failed to persist conversation",
		"conversation", c.ID.String(),
		"messages", len(c.Messages),
		"error", err,
	)
	if perr := r.events.Publish(events.SubjectChatPersistFailed, events.ChatEvent{
		Owner:        r.identity.Email,
		ChatID:       c.ID.String(),
		Title:        c.Title,
		MessageCount: len(c.Messages),
		Error:        err.Error(),
		Timestamp:    r.now().UTC(),
	}); perr != nil {
		r.logger.Warn("failed to publish persist failure", "error", perr)
	}
}

// Reconcile replaces local with remote in place. Calling it again, or after
// local has been removed, changes nothing; the list never holds both ids.
func (r *Reconciler) Reconcile(local, remote conversation.ID, title string) {
	if !local.IsLocal() || !remote.IsRemote() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	li := r.indexOf(local)
	if li < 0 {
		return
	}
	if r.indexOf(remote) >= 0 {
		r.chats = append(r.chats[:li], r.chats[li+1:]...)
	} else {
		r.chats[li].ID = remote
		if title != "" {
			r.chats[li].Title = title
		}
	}
	if r.active == local {
		r.active = remote
	}
	if r.inflight == local {
		r.inflight = remote
	}
}

// DeleteConversation removes id. Guests and never-persisted conversations
// are removed locally; otherwise the store decides and the list changes
// only after it confirms.
func (r *Reconciler) DeleteConversation(ctx context.Context, id conversation.ID) error {
	r.mu.Lock()
	if r.state == Sending && r.inflight == id {
		r.mu.Unlock()
		return ErrConversationBusy
	}
	if !r.identity.IsAuthenticated() || id.IsLocal() {
		r.removeLocked(id)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.store.DeleteConversation(ctx, r.identity.Email, id.Value()); err != nil {
		r.logger.Warn("failed to delete conversation", "conversation", id.String(), "error", err)
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}

	r.mu.Lock()
	r.removeLocked(id)
	r.mu.Unlock()

	r.publish(events.SubjectChatDeleted, id.Value(), "", 0)
	return nil
}

// Forget drops a stored conversation that was deleted elsewhere. A
// conversation with a send in flight is kept.
func (r *Reconciler) Forget(id conversation.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !id.IsRemote() || (r.state == Sending && r.inflight == id) {
		return false
	}
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.chats = append(r.chats[:i], r.chats[i+1:]...)
	if r.active == id {
		r.active = conversation.ID{}
		r.buffer = nil
	}
	return true
}

func (r *Reconciler) removeLocked(id conversation.ID) {
	if i := r.indexOf(id); i >= 0 {
		r.chats = append(r.chats[:i], r.chats[i+1:]...)
	}
	if r.active == id {
		r.active = conversation.ID{}
		r.buffer = nil
	}
	r.lastUsed = r.now()
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats := make([]conversation.Conversation, len(r.chats))
	for i, c := range r.chats {
		chats[i] = c.Clone()
	}
	return Snapshot{
		Conversations: chats,
		ActiveID:      r.active,
		Messages:      conversation.CloneMessages(r.buffer),
		State:         r.state.String(),
		Model:         r.model.Name,
		Identity:      r.identity.Kind.String(),
	}
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) idleSince() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsed, r.state == Idle
}

func (r *Reconciler) indexOf(id conversation.ID) int {
	if id.IsZero() {
		return -1
	}
	for i := range r.chats {
		if r.chats[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) publish(subject, chatID, title string, count int) {
	err := r.events.Publish(subject, events.ChatEvent{
		Owner:        r.identity.Email,
		ChatID:       chatID,
		Title:        title,
		MessageCount: count,
		Timestamp:    r.now().UTC(),
	})
	if err != nil {
		r.logger.Warn("failed to publish chat event", "subject", subject, "error", err)
	}
}
