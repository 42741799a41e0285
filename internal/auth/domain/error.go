package domain

import "errors"

var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidCode     = errors.New("invalid code")
	ErrCodeExpired     = errors.New("code expired")
	ErrCodeConsumed    = errors.New("code already used")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrInvalidSession  = errors.New("invalid session")
)
