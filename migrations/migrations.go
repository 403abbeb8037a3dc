// Package migrations embeds the rules schema for every supported database and
// applies it with golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// New returns a migrate instance for db. dialect is "postgres" or "sqlite".
// Closing the returned instance closes db as well.
func New(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case "postgres":
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case "sqlite":
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	return newWithDriver(driver, dialect)
}

// Apply runs every pending up migration. db stays open and every connection
// the migration used is handed back to the pool.
func Apply(db *sql.DB, dialect string) error {
	m, release, err := borrow(db, dialect)
	if err != nil {
		return err
	}
	defer release()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// borrow returns a migrate instance that does not own db. The postgres driver
// pins one connection for its advisory lock; release closes only that connection.
func borrow(db *sql.DB, dialect string) (*migrate.Migrate, func(), error) {
	switch dialect {
	case "postgres":
		ctx := context.Background()
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get migration connection: %w", err)
		}
		driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
		}
		m, err := newWithDriver(driver, dialect)
		if err != nil {
			_ = driver.Close()
			return nil, nil, err
		}
		return m, func() { _, _ = m.Close() }, nil
	case "sqlite":
		// the sqlite driver holds no connection of its own and closes db on Close
		driver, err := sqlite.WithInstance(db, &sqlite.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
		}
		m, err := newWithDriver(driver, dialect)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func newWithDriver(driver database.Driver, dialect string) (*migrate.Migrate, error) {
	src, err := iofs.New(files, dialect)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %q: %w", dialect, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}
