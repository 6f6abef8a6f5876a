package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/orderflow/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/orderflow/internal/catalog/domain"
	idempotencydomain "github.com/smallbiznis/orderflow/internal/idempotency/domain"
	inventorydomain "github.com/smallbiznis/orderflow/internal/inventory/domain"
	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
	paymentdomain "github.com/smallbiznis/orderflow/internal/payment/domain"
	promotiondomain "github.com/smallbiznis/orderflow/internal/promotion/domain"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the service, in creation order.
func Models() []any {
	return []any{
		&catalogdomain.Product{},
		&inventorydomain.Record{},
		&inventorydomain.Release{},
		&inventorydomain.Movement{},
		&promotiondomain.Promotion{},
		&orderdomain.Order{},
		&orderdomain.LineItem{},
		&orderdomain.StatusChange{},
		&idempotencydomain.Record{},
		&paymentdomain.EventRecord{},
		&auditdomain.AuditLog{},
	}
}

// Run applies the schema for the connected dialect. Postgres uses the
// versioned SQL migrations; other dialects are created from the models.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() == "postgres" {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	return AutoMigrate(conn)
}

// AutoMigrate creates or updates tables from the gorm models.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Versions lists the embedded migration files.
func Versions() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}
