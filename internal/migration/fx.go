package migration

import (
	apikeydomain "github.com/chamomilehq/chamomile/internal/apikey/domain"
	authdomain "github.com/chamomilehq/chamomile/internal/auth/domain"
	"github.com/chamomilehq/chamomile/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// mysql/sqlite dev setups rely on gorm schema sync
			return conn.AutoMigrate(
				&authdomain.User{},
				&authdomain.Session{},
				&authdomain.LoginCode{},
				&apikeydomain.APIKey{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
