package user

import "sidehustle-chat/internal/apperr"

var (
	ErrUserNotFound       = apperr.NotFound("user not found")
	ErrUsernameTaken      = apperr.AlreadyExists("username already taken")
	ErrInvalidCredentials = apperr.Unauthorized("invalid credentials")
	ErrInvalidInput       = apperr.InvalidArg("username must be 3-50 characters and password at least 8")
	ErrInvalidToken       = apperr.Unauthorized("invalid token")
)
