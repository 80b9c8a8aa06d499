// Package store provides kanban.CardStore implementations: an in-memory
// store for tests and single runs, and SQL stores backed by SQLite or
// Postgres for experiments whose boards must outlive the process.
package store

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is a CardStore that holds resources.
type Store interface {
	kanban.CardStore
	Close() error
}

// Open returns a Store for driver. dsn is a file path for sqlite and a
// connection URL for postgres; it is ignored for memory.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported store driver %q", driver)).
			WithField("store.driver").WithValue(driver)
	}
}

func duplicateCard(id string) error {
	return errors.NewAlreadyExistsError("card", id)
}
