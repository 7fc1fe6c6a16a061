package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maraffa-online/maraffa-server/internal/database"
	"github.com/maraffa-online/maraffa-server/internal/types"
)

func TestLogin(t *testing.T) {
	pwdHash, err := hashPassword("secret")
	assert.NoError(t, err)

	t.Run("success sets session cookie", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		db.On("GetAccountByUsername", "p1").Return(database.User{
			Id: 1, Username: "p1", EmailAddress: "p1@example.com", PasswordHash: pwdHash,
		}, nil).Once()

		s := newTestApp(t, db)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"username":"p1","password":"secret"}`))
		s.login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var u types.User
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&u))
		assert.Equal(t, 1, u.Id)

		cookies := w.Result().Cookies()
		assert.Len(t, cookies, 1)
		assert.Equal(t, tokenCookieKey, cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)

		userId, err := s.extractUserIdFromToken(cookies[0].Value)
		assert.NoError(t, err)
		assert.Equal(t, 1, userId)
	})

	t.Run("wrong password", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		db.On("GetAccountByUsername", "p1").Return(database.User{
			Id: 1, Username: "p1", PasswordHash: pwdHash,
		}, nil).Once()

		s := newTestApp(t, db)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"username":"p1","password":"wrong"}`))
		s.login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, w.Result().Cookies())
	})

	t.Run("missing fields", func(t *testing.T) {
		s := newTestApp(t, &database.MockRepository{})

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"p1"}`))
		s.login(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSession(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "p1"}, nil).Once()

	s := newTestApp(t, db)

	w := httptest.NewRecorder()
	s.session(w, authedRequest(http.MethodGet, "/auth/session", "", 1))

	assert.Equal(t, http.StatusOK, w.Code)

	var u types.User
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&u))
	assert.Equal(t, "p1", u.Username)
}

func TestLogout(t *testing.T) {
	s := newTestApp(t, &database.MockRepository{})

	w := httptest.NewRecorder()
	s.logout(w, authedRequest(http.MethodGet, "/auth/logout", "", 1))

	assert.Equal(t, http.StatusNoContent, w.Code)

	cookies := w.Result().Cookies()
	assert.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value, "expected the cookie to be cleared")
	assert.True(t, cookies[0].Expires.Before(time.Now()), "expected the cookie to be expired")
}

func TestJwtRoundTrip(t *testing.T) {
	s := newTestApp(t, &database.MockRepository{})

	token, err := s.createJwtForSession(types.User{Id: 7}, time.Minute)
	assert.NoError(t, err)

	userId, err := s.extractUserIdFromToken(token)
	assert.NoError(t, err)
	assert.Equal(t, 7, userId)
}

func TestExtractUserIdFromToken_invalid(t *testing.T) {
	s := newTestApp(t, &database.MockRepository{})

	t.Run("garbage token", func(t *testing.T) {
		_, err := s.extractUserIdFromToken("not-a-token")
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := s.createJwtForSession(types.User{Id: 7}, -time.Minute)
		assert.NoError(t, err)

		_, err = s.extractUserIdFromToken(token)
		assert.Error(t, err)
	})
}
