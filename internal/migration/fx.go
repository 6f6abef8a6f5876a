package migration

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/orderflow/internal/config"
	"github.com/smallbiznis/orderflow/internal/seed"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node, log *zap.Logger) error {
		if err := Run(conn); err != nil {
			return err
		}

		if cfg.SeedDemoData && !cfg.IsProduction() {
			if err := seed.EnsureDemoCatalog(conn, node); err != nil {
				return err
			}
			log.Info("demo catalog seeded")
		}
		return nil
	}),
)
