// Package auth guards the operator API with a shared key sent in X-Api-Key.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const HeaderAPIKey = "X-Api-Key"

var ErrNoKeyConfigured = errors.New("auth: ADMIN_TOKEN or ADMIN_TOKEN_BCRYPT must be set")

// KeyChecker verifies presented keys against either a plain token or a
// bcrypt hash of it. The hash form keeps the secret out of the environment.
type KeyChecker struct {
	plain []byte
	hash  []byte
}

func NewKeyChecker(plain, bcryptHash string) (*KeyChecker, error) {
	plain, bcryptHash = strings.TrimSpace(plain), strings.TrimSpace(bcryptHash)
	switch {
	case bcryptHash != "":
		if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
			return nil, errors.New("auth: ADMIN_TOKEN_BCRYPT is not a bcrypt hash")
		}
		return &KeyChecker{hash: []byte(bcryptHash)}, nil
	case plain != "":
		return &KeyChecker{plain: []byte(plain)}, nil
	default:
		return nil, ErrNoKeyConfigured
	}
}

func (k *KeyChecker) Valid(key string) bool {
	if key == "" {
		return false
	}
	if k.hash != nil {
		return bcrypt.CompareHashAndPassword(k.hash, []byte(key)) == nil
	}
	return subtle.ConstantTimeCompare(k.plain, []byte(key)) == 1
}

// Middleware answers 401 unless the request carries a valid key.
func (k *KeyChecker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !k.Valid(r.Header.Get(HeaderAPIKey)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing or invalid API key"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashKey is what operators run once to produce ADMIN_TOKEN_BCRYPT.
func HashKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}
