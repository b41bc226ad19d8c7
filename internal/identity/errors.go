package identity

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrTeamNotFound       = errors.New("team not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrKeyNotFound        = errors.New("integration key not found")
	ErrInvalidKey         = errors.New("invalid integration key")
)
