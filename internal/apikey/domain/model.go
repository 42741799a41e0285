package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey stores a dashboard-managed credential owned by one user. The raw
// key is stored as issued so validation can echo the key's name back.
type APIKey struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    snowflake.ID `gorm:"column:user_id;not null;index:ix_api_keys_user_id"`
	Name      string       `gorm:"type:text;not null"`
	Key       string       `gorm:"type:text;not null;uniqueIndex:ux_api_keys_key"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }
