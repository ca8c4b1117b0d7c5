// Package conversation holds the chat data model shared by the session
// reconciler, the stores and the HTTP layer.
package conversation

import (
	"time"
	"unicode/utf8"
)

const (
	DefaultTitle  = "New Chat"
	FallbackReply = "Sorry, something went wrong. Please try again."

	titleRunes = 30
)

type Message struct {
	Content string `json:"content"`
	IsUser  bool   `json:"isUser"`
}

func UserMessage(content string) Message  { return Message{Content: content, IsUser: true} }
func ModelMessage(content string) Message { return Message{Content: content, IsUser: false} }

type Conversation struct {
	ID        ID        `json:"_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"timestamp"`
}

// Clone returns a copy whose message slice does not alias c's.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = CloneMessages(c.Messages)
	return out
}

func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// DeriveTitle is the first 30 characters of text followed by an ellipsis.
// The ellipsis is appended even when text is shorter.
func DeriveTitle(text string) string {
	if utf8.RuneCountInString(text) <= titleRunes {
		return text + "..."
	}
	runes := []rune(text)
	return string(runes[:titleRunes]) + "..."
}
