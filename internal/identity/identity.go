// Package identity resolves the caller identity for each request and owns
// the ownership-based authorization policy.
//
// Two identity regimes coexist. Every caller gets a network-address identity
// derived from the connection; callers presenting a valid bearer token
// additionally get a credential identity that supersedes the address for
// ownership purposes. The address is still recorded alongside so records
// created before the credential regime keep working.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Role is the authorization level carried by a credential.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Credentials is a verified authenticated identity.
type Credentials struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Verifier validates a bearer token and returns the credentials it carries.
type Verifier interface {
	Verify(token string) (*Credentials, error)
}

// Actor is the resolved caller identity: always an address, optionally a
// credential. A nil Credentials means the caller is an anonymous guest whose
// synthetic identity is its address. Stable per address, trivially shared by
// anything behind the same NAT; acceptable for a LAN tool.
type Actor struct {
	IP          string
	Credentials *Credentials
}

// Role returns the actor's effective role.
func (a Actor) Role() Role {
	if a.Credentials == nil {
		return RoleGuest
	}
	return a.Credentials.Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role() == RoleAdmin
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext returns the actor resolved for this request. The zero Actor is
// returned when the middleware did not run.
func FromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey).(Actor)
	return actor
}

// WithActor injects an actor into a context. Used by tests and by the SSE
// endpoint which authenticates before subscribing.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// Middleware resolves the caller identity on every request. A missing or
// invalid token degrades to a guest actor rather than rejecting: anonymous
// use is first-class on a LAN share.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := Actor{IP: ClientIP(r)}
			if token := extractToken(r); token != "" && verifier != nil {
				if creds, err := verifier.Verify(token); err == nil {
					actor.Credentials = creds
				}
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ClientIP derives the caller's network address: the first entry of
// X-Forwarded-For when present, else the transport remote address, with
// loopback and IPv4-mapped-IPv6 forms normalized to dotted IPv4.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return NormalizeIP(strings.TrimSpace(first))
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return NormalizeIP(host)
}

// NormalizeIP maps "::1" to "127.0.0.1" and strips the "::ffff:" prefix of
// IPv4-mapped-IPv6 addresses.
func NormalizeIP(ip string) string {
	if ip == "::1" {
		return "127.0.0.1"
	}
	return strings.TrimPrefix(ip, "::ffff:")
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback, used by the SSE client.
	return r.URL.Query().Get("token")
}
