package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	RequestLink(ctx context.Context, req RequestLinkRequest) error
	ExchangeCode(ctx context.Context, req ExchangeRequest) (*LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	CurrentUser(ctx context.Context, userID snowflake.ID) (*User, error)
}

type RequestLinkRequest struct {
	Email string
}

type ExchangeRequest struct {
	Code      string
	UserAgent string
	IPAddress string
}

type LoginResult struct {
	User      *User
	RawToken  string
	ExpiresAt time.Time
	SessionID snowflake.ID
}
