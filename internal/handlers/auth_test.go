package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"groupchat/internal/auth"
	"groupchat/internal/mocks"
	"groupchat/internal/models"
	"groupchat/internal/repositories"
)

type stubIssuer struct{}

func (stubIssuer) Issue(userID, email string) (string, error) {
	return "token-" + userID, nil
}

func setupAuthRouter(handler *AuthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/signup", handler.Signup)
	r.POST("/auth/login", handler.Login)
	return r
}

func TestSignupSuccess(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	router := setupAuthRouter(NewAuthHandler(users, stubIssuer{}, nil))

	users.On("CreateUser", mock.Anything, "Alice", "alice@example.com", mock.AnythingOfType("string")).
		Return(models.User{ID: "u1", Name: "Alice", Email: "alice@example.com"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/signup",
		bytes.NewBufferString(`{"name":"Alice","email":"alice@example.com","password":"secret1"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "token-u1", resp.Token)
	assert.Equal(t, "u1", resp.User.ID)
	assert.NotContains(t, rec.Body.String(), "password")
	users.AssertExpectations(t)
}

func TestSignupEmailInUse(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	router := setupAuthRouter(NewAuthHandler(users, stubIssuer{}, nil))

	users.On("CreateUser", mock.Anything, "Alice", "alice@example.com", mock.Anything).
		Return(nil, repositories.ErrEmailTaken).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/signup",
		bytes.NewBufferString(`{"name":"Alice","email":"alice@example.com","password":"secret1"}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"email in use"}`, rec.Body.String())
}

func TestSignupInvalidBody(t *testing.T) {
	router := setupAuthRouter(NewAuthHandler(new(mocks.UserRepositoryMock), stubIssuer{}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/signup",
		bytes.NewBufferString(`{"name":"Alice","email":"not-an-email","password":"secret1"}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	hash, err := auth.HashPassword("secret1")
	require.NoError(t, err)

	cases := []struct {
		name     string
		body     string
		user     any
		lookup   error
		status   int
		hasToken bool
	}{
		{"valid", `{"email":"alice@example.com","password":"secret1"}`, models.User{ID: "u1", Email: "alice@example.com", PasswordHash: hash}, nil, http.StatusOK, true},
		{"wrong password", `{"email":"alice@example.com","password":"nope"}`, models.User{ID: "u1", PasswordHash: hash}, nil, http.StatusBadRequest, false},
		{"unknown email", `{"email":"alice@example.com","password":"secret1"}`, nil, repositories.ErrUserNotFound, http.StatusBadRequest, false},
		{"storage error", `{"email":"alice@example.com","password":"secret1"}`, nil, errors.New("db down"), http.StatusInternalServerError, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			users := new(mocks.UserRepositoryMock)
			users.On("GetUserByEmail", mock.Anything, "alice@example.com").Return(tc.user, tc.lookup).Once()
			router := setupAuthRouter(NewAuthHandler(users, stubIssuer{}, nil))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(tc.body)))

			require.Equal(t, tc.status, rec.Code)
			if tc.hasToken {
				assert.Contains(t, rec.Body.String(), `"token":"token-u1"`)
			}
		})
	}
}
