package server

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hassanrakib/zitbo-server/internal/domain"
	apperrors "github.com/hassanrakib/zitbo-server/internal/errors"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 30
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func (s *Server) handleSignUp(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if err := validateCredentials(req.Username, req.Password); err != nil {
		return err
	}

	user, err := s.app.SignUp(c.Request().Context(), req.Username, req.Password)
	if errors.Is(err, domain.ErrUsernameTaken) {
		return apperrors.ConflictError("username already taken").WithField("username", req.Username)
	}
	if err != nil {
		return apperrors.UnavailableError("failed to create account", err)
	}

	token, err := s.creds.Issue(user.Username)
	if err != nil {
		return apperrors.InternalError("failed to issue token", err)
	}

	return c.JSON(201, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return apperrors.ValidationError("username and password are required")
	}

	user, err := s.app.Authenticate(c.Request().Context(), req.Username, req.Password)
	if errors.Is(err, domain.ErrInvalidCredentials) {
		return apperrors.UnauthorizedError("invalid username or password")
	}
	if err != nil {
		return apperrors.UnavailableError("failed to authenticate", err)
	}

	token, err := s.creds.Issue(user.Username)
	if err != nil {
		return apperrors.InternalError("failed to issue token", err)
	}

	return c.JSON(200, authResponse{Token: token, User: user})
}

func validateCredentials(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return apperrors.ValidationError("username is required")
	}
	if len(username) > maxUsernameLength {
		return apperrors.ValidationError("username is too long")
	}
	if strings.ContainsAny(username, " \t\n") {
		return apperrors.ValidationError("username must not contain whitespace")
	}
	if len(password) < minPasswordLength {
		return apperrors.ValidationError("password must be at least 8 characters")
	}
	return nil
}
