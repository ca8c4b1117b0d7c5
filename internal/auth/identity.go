// Package auth resolves who is behind a request: an authenticated user, a
// guest, or nobody. It signs and verifies the session cookies that carry
// that answer and checks admin credentials.
package auth

type Kind uint8

const (
	Unauthenticated Kind = iota
	Guest
	Authenticated
)

func (k Kind) String() string {
	switch k {
	case Guest:
		return "guest"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Identity is the three-way session signal. Email is set only for
// Authenticated identities and is the owner key for stored conversations.
type Identity struct {
	Kind  Kind
	Email string
}

func User(email string) Identity { return Identity{Kind: Authenticated, Email: email} }
func GuestIdentity() Identity     { return Identity{Kind: Guest} }

func (i Identity) IsAuthenticated() bool { return i.Kind == Authenticated && i.Email != "" }
func (i Identity) IsGuest() bool         { return i.Kind == Guest }
