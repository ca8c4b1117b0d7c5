package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SessionCookie = "session"
	GuestCookie   = "guest"
	AdminCookie   = "admin_session"
	ClientCookie  = "debchat_sid"

	SessionTTL = 5 * 24 * time.Hour
	AdminTTL   = 24 * time.Hour

	userPrefix  = "user:"
	adminPrefix = "admin:"
)

// Authenticator maps requests to identities using signed cookies.
type Authenticator struct {
	signer *Signer
	secure bool
	now    func() time.Time
}

func NewAuthenticator(secret []byte, secure bool) *Authenticator {
	return &Authenticator{signer: NewSigner(secret), secure: secure, now: time.Now}
}

// Resolve reads the three-way session signal. A valid session cookie wins
// over the guest flag.
func (a *Authenticator) Resolve(r *http.Request) Identity {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if subject, err := a.signer.Verify(c.Value, a.now()); err == nil {
			if email, ok := strings.CutPrefix(subject, userPrefix); ok && email != "" {
				return User(email)
			}
		}
	}
	if c, err := r.Cookie(GuestCookie); err == nil && c.Value == "1" {
		return GuestIdentity()
	}
	return Identity{}
}

func (a *Authenticator) IssueSession(w http.ResponseWriter, email string) {
	expires := a.now().Add(SessionTTL)
	a.set(w, SessionCookie, a.signer.Sign(userPrefix+email, expires), expires)
	a.clear(w, GuestCookie)
}

func (a *Authenticator) IssueGuest(w http.ResponseWriter) {
	a.set(w, GuestCookie, "1", time.Time{})
}

// ClearSession signs the client out of both the user and guest modes.
func (a *Authenticator) ClearSession(w http.ResponseWriter) {
	a.clear(w, SessionCookie)
	a.clear(w, GuestCookie)
}

func (a *Authenticator) IssueAdmin(w http.ResponseWriter, username string) {
	expires := a.now().Add(AdminTTL)
	a.set(w, AdminCookie, a.signer.Sign(adminPrefix+username, expires), expires)
}

func (a *Authenticator) ClearAdmin(w http.ResponseWriter) {
	a.clear(w, AdminCookie)
}

// Admin returns the admin username carried by a valid admin cookie.
func (a *Authenticator) Admin(r *http.Request) (string, bool) {
	c, err := r.Cookie(AdminCookie)
	if err != nil {
		return "", false
	}
	subject, err := a.signer.Verify(c.Value, a.now())
	if err != nil {
		return "", false
	}
	name, ok := strings.CutPrefix(subject, adminPrefix)
	return name, ok && name != ""
}

// ClientToken returns the opaque token that keys a client's session state,
// issuing a new one when the request carries none.
func (a *Authenticator) ClientToken(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ClientCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token := uuid.NewString()
	a.set(w, ClientCookie, token, time.Time{})
	return token
}

func (a *Authenticator) set(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *Authenticator) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type identityKey struct{}

// Middleware stores the resolved identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), identityKey{}, a.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// RequireAdmin rejects requests without a valid admin cookie.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.Admin(r); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
