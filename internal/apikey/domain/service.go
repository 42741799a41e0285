package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	List(ctx context.Context, userID snowflake.ID) ([]Response, error)
	Create(ctx context.Context, userID snowflake.ID, req CreateRequest) (*Response, error)
	Rename(ctx context.Context, userID snowflake.ID, keyID snowflake.ID, req RenameRequest) (*Response, error)
	Delete(ctx context.Context, userID snowflake.ID, keyID snowflake.ID) error
	FindByKey(ctx context.Context, raw string) (*APIKey, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	UpdateName(ctx context.Context, db *gorm.DB, userID, keyID snowflake.ID, name string) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, userID, keyID snowflake.ID) (int64, error)
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]APIKey, error)
	FindByKey(ctx context.Context, db *gorm.DB, raw string) (*APIKey, error)
}

type CreateRequest struct {
	Name string `json:"name"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

type Response struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName = errors.New("invalid_name")
	ErrNotFound    = errors.New("not_found")
)
