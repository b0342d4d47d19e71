package api

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// tokenAuth guards mutating routes with a bearer token checked against a
// bcrypt hash. An empty hash disables the check.
type tokenAuth struct {
	hash []byte

	mu       sync.Mutex
	verified [sha256.Size]byte // digest of the last token that matched
	ok       bool
}

func newTokenAuth(hash string) *tokenAuth {
	return &tokenAuth{hash: []byte(strings.TrimSpace(hash))}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// check compares token with the hash. The digest of the last accepted token
// is cached to skip repeated bcrypt rounds.
func (a *tokenAuth) check(token string) bool {
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	a.mu.Lock()
	hit := a.ok && a.verified == sum
	a.mu.Unlock()
	if hit {
		return true
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return false
	}
	a.mu.Lock()
	a.verified, a.ok = sum, true
	a.mu.Unlock()
	return true
}

func (a *tokenAuth) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.hash) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !a.check(bearerToken(r)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bucketwarden"`)
			respondError(w, r, http.StatusUnauthorized, kindUnauthorized, "missing or invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
