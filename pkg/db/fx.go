package db

import (
	"context"
	"fmt"

	"github.com/smallbiznis/orderflow/internal/observability"
	obslogger "github.com/smallbiznis/orderflow/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(NewConfig),
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Cfg    Config
	ObsCfg observability.Config
	Log    *zap.Logger
}

func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         obslogger.NewGormLogger(obslogger.DefaultGormLoggerConfig(p.ObsCfg.Debug())),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", p.Cfg.Type, err)
	}

	if err := conn.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName(p.Cfg.Name),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return nil, fmt.Errorf("register tracing plugin: %w", err)
	}
	if err := conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          p.Cfg.Name,
		RefreshInterval: 15,
		StartServer:     false,
	})); err != nil {
		return nil, fmt.Errorf("register metrics plugin: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if p.Cfg.IsSQLite() {
		// sqlite allows a single writer; serialising at the pool avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(p.Cfg.MaxIdleConn)
		sqlDB.SetMaxOpenConns(p.Cfg.MaxOpenConn)
		sqlDB.SetConnMaxLifetime(p.Cfg.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(p.Cfg.ConnMaxIdleTime)
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Log.Info("closing database connections")
			return sqlDB.Close()
		},
	})

	p.Log.Info("database connected",
		zap.String("type", p.Cfg.Type),
		zap.String("name", p.Cfg.Name),
	)
	return conn, nil
}
