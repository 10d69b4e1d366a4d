// Package identity resolves who is behind a connection. Authentication is
// done by the proxy in front of the server; this package only reads what it
// forwarded.
package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Headers set by the authenticating proxy.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

// ErrAnonymous is returned when a request carries no user id.
var ErrAnonymous = errors.New("no user identity on request")

// Identity is an authenticated user.
type Identity struct {
	UserID      string
	DisplayName string
}

// Provider resolves the identity for an upgrade request.
type Provider interface {
	Identify(r *http.Request) (Identity, error)
}

// HeaderProvider trusts X-User-Id and X-User-Name. With AllowAnonymous set a
// request without a user id gets a generated guest identity.
type HeaderProvider struct {
	AllowAnonymous bool
}

func (p HeaderProvider) Identify(r *http.Request) (Identity, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	name := strings.TrimSpace(r.Header.Get(HeaderUserName))
	if id == "" {
		if !p.AllowAnonymous {
			return Identity{}, ErrAnonymous
		}
		id = "guest-" + shortID()
	}
	if name == "" {
		name = id
	}
	return Identity{UserID: id, DisplayName: name}, nil
}

// ParticipantID derives a per-connection participant id, so one user with two
// tabs open is two participants.
func ParticipantID(ident Identity) string {
	return ident.UserID + "#" + shortID()
}

func shortID() string {
	return uuid.NewString()[:8]
}
