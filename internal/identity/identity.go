// Package identity reads the caller identity supplied by the upstream auth
// layer. Credentials are never re-validated here.
package identity

import (
	"net/http"
	"strings"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

const (
	HeaderUserID       = "X-User-ID"
	HeaderSessionToken = "X-Session-Token"
	HeaderRole         = "X-User-Role"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type Identity struct {
	UserID       string
	SessionToken string
	Role         Role
}

func FromRequest(r *http.Request) Identity {
	id := Identity{
		UserID:       strings.TrimSpace(r.Header.Get(HeaderUserID)),
		SessionToken: strings.TrimSpace(r.Header.Get(HeaderSessionToken)),
		Role:         Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole)))),
	}
	if id.Role == "" {
		id.Role = RoleCustomer
	}
	return id
}

// Owner returns the cart owner for the request. An authenticated user wins
// over the session token.
func (i Identity) Owner() (domain.CartOwner, error) {
	switch {
	case i.UserID != "":
		return domain.UserOwner(i.UserID), nil
	case i.SessionToken != "":
		return domain.SessionOwner(i.SessionToken), nil
	default:
		return domain.CartOwner{}, domain.ErrInvalidOwner
	}
}

func (i Identity) Session() (domain.CartOwner, bool) {
	if i.SessionToken == "" {
		return domain.CartOwner{}, false
	}
	return domain.SessionOwner(i.SessionToken), true
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// RequireAdmin rejects requests whose identity does not carry the admin role.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !FromRequest(r).IsAdmin() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"admin role required"}` + "\n"))
			return
		}
		next(w, r)
	}
}
