// Package store defines the persistence contracts for chat logs, users,
// models and admin credentials. Backends live in the postgres, mongo and
// memory subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/debchat/internal/conversation"
)

// ErrNotFound is returned when a record is missing or not owned by the caller.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when a returning user's new email already
// belongs to a different user.
var ErrEmailTaken = errors.New("email belongs to another user")

// ChatLog is a persisted conversation together with its owner.
type ChatLog struct {
	ID        string                 `json:"_id"`
	Owner     string                 `json:"user"`
	Title     string                 `json:"title"`
	Messages  []conversation.Message `json:"messages"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// Conversation converts the log into the reconciler's model, keyed by its
// permanent id.
func (l ChatLog) Conversation() conversation.Conversation {
	return conversation.Conversation{
		ID:        conversation.Remote(l.ID),
		Title:     l.Title,
		Messages:  conversation.CloneMessages(l.Messages),
		CreatedAt: l.CreatedAt,
	}
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}

type User struct {
	ID          string     `json:"_id"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	GoogleID    string     `json:"googleId,omitempty"`
	Role        Role       `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLogin,omitempty"`
}

// Login carries what the identity provider tells us about a signing-in user.
type Login struct {
	Email    string
	Name     string
	GoogleID string
}

type ModelStatus string

const (
	ModelActive   ModelStatus = "active"
	ModelInactive ModelStatus = "inactive"
)

type ModelConfig struct {
	Temperature float64 `json:"temperature"`
	MinP        float64 `json:"min_p"`
	MaxTokens   int     `json:"max_tokens"`
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{Temperature: 0.7, MinP: 0.05, MaxTokens: 2048}
}

// Validate enforces 0 <= temperature <= 2, 0 <= min_p <= 1 and max_tokens >= 1.
func (c ModelConfig) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.MinP < 0 || c.MinP > 1 {
		return fmt.Errorf("min_p %v out of range [0, 1]", c.MinP)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", c.MaxTokens)
	}
	return nil
}

// Model is a registry entry describing a remote model endpoint.
type Model struct {
	ID            string      `json:"_id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Kind          string      `json:"type"`
	Endpoint      string      `json:"endpoint,omitempty"`
	ProviderModel string      `json:"providerModel,omitempty"`
	Status        ModelStatus `json:"status"`
	Config        ModelConfig `json:"config"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

type Admin struct {
	Username     string
	Email        string
	PasswordHash []byte
}

// Conversations is the Conversation Store. Update is last-write-wins.
type Conversations interface {
	CreateConversation(ctx context.Context, owner, title string, msgs []conversation.Message) (ChatLog, error)
	UpdateConversation(ctx context.Context, owner, id, title string, msgs []conversation.Message) (ChatLog, error)
	ListConversations(ctx context.Context, owner string) ([]ChatLog, error)
	DeleteConversation(ctx context.Context, owner, id string) error
	ListAllConversations(ctx context.Context, limit int) ([]ChatLog, error)
	CountConversations(ctx context.Context) (int64, error)
}

// Users is the user registry. UpsertUser matches an existing user on
// GoogleID when one is given, else on Email, and refreshes the email, name
// and last login of the match. The bool reports whether a user was created.
type Users interface {
	UpsertUser(ctx context.Context, login Login) (User, bool, error)
	ListUsers(ctx context.Context) ([]User, error)
	SetUserRole(ctx context.Context, email string, role Role) error
	CountUsers(ctx context.Context) (int64, error)
}

type Models interface {
	ListModels(ctx context.Context) ([]Model, error)
	CreateModel(ctx context.Context, m Model) (Model, error)
	UpdateModelConfig(ctx context.Context, id string, cfg ModelConfig) error
	SetModelStatus(ctx context.Context, id string, status ModelStatus) error
	CountActiveModels(ctx context.Context) (int64, error)
}

type Admins interface {
	GetAdmin(ctx context.Context, username string) (Admin, error)
	PutAdmin(ctx context.Context, a Admin) error
}

// Store is implemented by every backend.
type Store interface {
	Conversations
	Users
	Models
	Admins
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error
}

// NormalizeModel fills defaults for a model about to be created.
func NormalizeModel(m Model, now time.Time) Model {
	if m.Status == "" {
		m.Status = ModelInactive
	}
	if m.Config == (ModelConfig{}) {
		m.Config = DefaultModelConfig()
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	return m
}
