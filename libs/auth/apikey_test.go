package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPlainKey(t *testing.T) {
	k, err := NewKeyChecker("s3cret", "")
	require.NoError(t, err)
	assert.True(t, k.Valid("s3cret"))
	assert.False(t, k.Valid("s3cre"))
	assert.False(t, k.Valid(""))
}

func TestBcryptKeyWins(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	k, err := NewKeyChecker("ignored", string(hash))
	require.NoError(t, err)
	assert.True(t, k.Valid("s3cret"))
	assert.False(t, k.Valid("ignored"))
}

func TestNoKeyConfigured(t *testing.T) {
	_, err := NewKeyChecker(" ", "")
	assert.ErrorIs(t, err, ErrNoKeyConfigured)

	_, err = NewKeyChecker("", "not-a-hash")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	k, err := NewKeyChecker("s3cret", "")
	require.NoError(t, err)
	h := k.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set(HeaderAPIKey, "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
