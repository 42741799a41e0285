package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/chamomilehq/chamomile/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

// quoteIdent quotes a column name with the connection's dialect. "key" is a
// reserved word in MySQL and must not appear bare in raw statements.
func quoteIdent(d gorm.Dialector, name string) string {
	var sb strings.Builder
	d.QuoteTo(&sb, name)
	return sb.String()
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Exec(
		fmt.Sprintf(`INSERT INTO api_keys (id, user_id, name, %s, created_at)
		 VALUES (?, ?, ?, ?, ?)`, quoteIdent(db.Dialector, "key")),
		key.ID,
		key.UserID,
		key.Name,
		key.Key,
		key.CreatedAt,
	).Error
}

func (r *repo) UpdateName(ctx context.Context, db *gorm.DB, userID, keyID snowflake.ID, name string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE api_keys SET name = ? WHERE user_id = ? AND id = ?`,
		name,
		userID,
		keyID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, keyID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM api_keys WHERE user_id = ? AND id = ?`,
		userID,
		keyID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]apikeydomain.APIKey, error) {
	var keys []apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT id, user_id, name, %s, created_at
		 FROM api_keys WHERE user_id = ? ORDER BY created_at DESC, id DESC`, quoteIdent(db.Dialector, "key")),
		userID,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, raw string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT id, user_id, name, %s, created_at
		 FROM api_keys WHERE %s = ?`, quoteIdent(db.Dialector, "key"), quoteIdent(db.Dialector, "key")),
		raw,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}
