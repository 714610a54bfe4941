package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/filepreview/internal/api/response"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

const realm = "filepreview"

// Auth checks HTTP basic credentials against a fixed list of bcrypt hashes.
type Auth struct {
	hashes map[string][]byte
	// dummy is compared against for unknown users so lookups take the same time.
	dummy []byte
}

// NewAuth creates a new Auth middleware. With no credentials every request is let through.
func NewAuth(creds []models.Credential) *Auth {
	a := &Auth{hashes: make(map[string][]byte, len(creds))}
	for _, c := range creds {
		a.hashes[c.Username] = []byte(c.PasswordHash)
	}
	if len(creds) > 0 {
		a.dummy, _ = bcrypt.GenerateFromPassword([]byte("filepreview-dummy"), bcrypt.MinCost)
	}
	return a
}

// Enabled reports whether any credentials are configured.
func (a *Auth) Enabled() bool {
	return len(a.hashes) > 0
}

// Authenticate validates the Authorization header and stores the username in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			unauthorized(w, "Missing or invalid Authorization header")
			return
		}

		hash, known := a.hashes[username]
		if !known {
			hash = a.dummy
		}
		if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || !known {
			unauthorized(w, "Invalid credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(SetUser(r.Context(), username)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	response.Error(w, http.StatusUnauthorized, msg)
}
