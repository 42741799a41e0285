package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, user *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error
	RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error
}

type LoginCodeRepository interface {
	CreateLoginCode(ctx context.Context, code *LoginCode) error
	GetLoginCodeByHash(ctx context.Context, codeHash string) (*LoginCode, error)
	ConsumeLoginCode(ctx context.Context, id snowflake.ID, consumedAt time.Time) error
}
