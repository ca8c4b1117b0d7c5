package conversation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type idKind uint8

const (
	kindNone idKind = iota
	kindLocal
	kindRemote
)

const localPrefix = "local:"

// ID identifies a conversation in one of two namespaces. A Local id is minted
// before the store has seen the conversation; a Remote id is assigned by the
// store and never changes afterwards.
type ID struct {
	kind  idKind
	value string
}

// Local wraps a temporary token.
func Local(token string) ID { return ID{kind: kindLocal, value: token} }

// Remote wraps a store-assigned id.
func Remote(storeID string) ID { return ID{kind: kindRemote, value: storeID} }

// NewLocal mints a fresh temporary id.
func NewLocal() ID { return Local(uuid.NewString()) }

func (id ID) IsZero() bool   { return id.kind == kindNone }
func (id ID) IsLocal() bool  { return id.kind == kindLocal }
func (id ID) IsRemote() bool { return id.kind == kindRemote }

// Value is the bare token or store id without its namespace tag.
func (id ID) Value() string { return id.value }

func (id ID) String() string {
	switch id.kind {
	case kindLocal:
		return localPrefix + id.value
	case kindRemote:
		return id.value
	default:
		return ""
	}
}

// ParseID reverses String. Store ids never carry the local prefix.
func ParseID(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("empty conversation id")
	}
	if tok, ok := strings.CutPrefix(s, localPrefix); ok {
		if tok == "" {
			return ID{}, fmt.Errorf("empty local token in %q", s)
		}
		return Local(tok), nil
	}
	return Remote(s), nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ID{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
