// Package events carries chat and user change notifications over NATS.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	SubjectChatCreated       = "debchat.chat.created"
	SubjectChatUpdated       = "debchat.chat.updated"
	SubjectChatDeleted       = "debchat.chat.deleted"
	SubjectChatPersistFailed = "debchat.chat.persist_failed"
	SubjectUserLogin         = "debchat.user.login"
	SubjectRegistered        = "debchat.agent.registered"
)

// ChatEvent describes a change to one persisted conversation.
type ChatEvent struct {
	Owner        string    `json:"owner"`
	ChatID       string    `json:"chat_id"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"message_count"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type LoginEvent struct {
	Email     string    `json:"email"`
	Created   bool      `json:"created"`
	Timestamp time.Time `json:"timestamp"`
}

// DecodeChatEvent parses a chat event payload. An event without an owner or
// chat id cannot be routed and is rejected.
func DecodeChatEvent(data []byte) (ChatEvent, error) {
	var evt ChatEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ChatEvent{}, fmt.Errorf("decode chat event: %w", err)
	}
	if evt.Owner == "" || evt.ChatID == "" {
		return ChatEvent{}, errors.New("chat event missing owner or chat_id")
	}
	return evt, nil
}
