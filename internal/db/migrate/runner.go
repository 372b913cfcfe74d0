// Package migrate applies the embedded schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"kaldor-iiot/backend/internal/db"
)

// ErrNoChange reports that the schema was already at the requested version.
var ErrNoChange = migrate.ErrNoChange

// ErrNoDSN is returned when no database URL was configured.
var ErrNoDSN = errors.New("DATABASE_URL is not set")

// Status is the schema version recorded in schema_migrations.
type Status struct {
	Version uint
	Dirty   bool
	// Applied is false on a database no migration has touched.
	Applied bool
}

func open(dsn string) (*migrate.Migrate, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("open migrator: %w", err)
	}
	return m, nil
}

func apply(dsn string, step func(*migrate.Migrate) error) error {
	m, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	return step(m)
}

// Up applies every pending migration. It returns ErrNoChange when none were pending.
func Up(dsn string) error {
	return apply(dsn, (*migrate.Migrate).Up)
}

// Down rolls back every applied migration. It returns ErrNoChange when none were applied.
func Down(dsn string) error {
	return apply(dsn, (*migrate.Migrate).Down)
}

// Version reports the current schema version.
func Version(dsn string) (Status, error) {
	var st Status
	err := apply(dsn, func(m *migrate.Migrate) error {
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		if err != nil {
			return err
		}
		st = Status{Version: v, Dirty: dirty, Applied: true}
		return nil
	})
	return st, err
}
