package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maraffa-online/maraffa-server/internal/database"
	"github.com/maraffa-online/maraffa-server/internal/types"
)

func TestAuthMiddleware(t *testing.T) {
	s := newTestApp(t, &database.MockRepository{})

	handler := s.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		userId, ok := UserId(r.Context())
		assert.True(t, ok, "expected user id in request context")
		assert.Equal(t, 7, userId)
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := s.createJwtForSession(types.User{Id: 7}, time.Minute)
		assert.NoError(t, err)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
		r.AddCookie(createJwtCookie(token, time.Minute))
		handler(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("Cache-Control"))
	})

	t.Run("missing cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodGet, "/auth/session", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
		r.AddCookie(createJwtCookie("bogus", time.Minute))
		handler(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestErrorHandler_recoversPanic(t *testing.T) {
	s := newTestApp(t, &database.MockRepository{})

	handler := s.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
}
