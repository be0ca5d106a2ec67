// Package migrate applies the embedded users schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"identity-service/backend/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange is returned by migrate when the schema is already at the target version.
// Run swallows it and reports Changed=false instead.
var ErrNoChange = migrate.ErrNoChange

// Direction is the way a Run moves the schema.
type Direction string

const (
	// Up applies every pending migration.
	Up Direction = "up"
	// Down reverts the most recent migration only.
	Down Direction = "down"
	// Version reports the current version without changing anything.
	Version Direction = "version"
)

// ParseDirection validates s as a Direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Up, Down, Version:
		return d, nil
	}
	return "", fmt.Errorf("direction must be up, down or version, got %q", s)
}

// Result is the schema state after a Run.
type Result struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Run moves the schema at dsn in direction d.
func Run(dsn string, d Direction) (Result, error) {
	if strings.TrimSpace(dsn) == "" {
		return Result{}, errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if _, err := ParseDirection(string(d)); err != nil {
		return Result{}, err
	}

	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return Result{}, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return Result{}, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	var runErr error
	switch d {
	case Up:
		runErr = m.Up()
	case Down:
		runErr = m.Steps(-1)
	}
	res := Result{Changed: d != Version && runErr == nil}
	if runErr != nil && !errors.Is(runErr, migrate.ErrNoChange) {
		return res, runErr
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return res, fmt.Errorf("migrate version: %w", err)
	}
	res.Version, res.Dirty = v, dirty
	return res, nil
}
