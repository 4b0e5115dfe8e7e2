package domain

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTaskNotFound       = errors.New("task not found")
	ErrIntervalNotFound   = errors.New("work interval not found")
	ErrRoomStateNotFound  = errors.New("room state not found")
)
