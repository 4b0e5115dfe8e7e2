package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/hassanrakib/zitbo-server/internal/domain"
)

func postJSON(srv *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHandleSignUp_Success(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		signUpFn: func(ctx context.Context, username, password string) (*domain.User, error) {
			return &domain.User{ID: uuid.New(), Username: username}, nil
		},
	})

	rec := postJSON(srv, "/auth/signup", `{"username":"rakib","password":"longenough"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token":"token-rakib"`)
	assert.Contains(t, rec.Body.String(), `"username":"rakib"`)
}

func TestHandleSignUp_UsernameTaken(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		signUpFn: func(ctx context.Context, username, password string) (*domain.User, error) {
			return nil, domain.ErrUsernameTaken
		},
	})

	rec := postJSON(srv, "/auth/signup", `{"username":"rakib","password":"longenough"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "username already taken")
}

func TestHandleSignUp_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing username", `{"password":"longenough"}`, "username is required"},
		{"whitespace username", `{"username":"bad name","password":"longenough"}`, "whitespace"},
		{"long username", `{"username":"` + strings.Repeat("a", 31) + `","password":"longenough"}`, "too long"},
		{"short password", `{"username":"rakib","password":"short"}`, "at least 8 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &mockAppService{})
			rec := postJSON(srv, "/auth/signup", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestHandleLogin_Success(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		authenticateFn: func(ctx context.Context, username, password string) (*domain.User, error) {
			return &domain.User{ID: uuid.New(), Username: username}, nil
		},
	})

	rec := postJSON(srv, "/auth/login", `{"username":"rakib","password":"longenough"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token":"token-rakib"`)
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		authenticateFn: func(ctx context.Context, username, password string) (*domain.User, error) {
			return nil, domain.ErrInvalidCredentials
		},
	})

	rec := postJSON(srv, "/auth/login", `{"username":"rakib","password":"wrongpass"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid username or password")
}

func TestHandleLogin_MissingFields(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := postJSON(srv, "/auth/login", `{"username":"rakib"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "username and password are required")
}
