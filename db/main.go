package db

import (
	"database/sql"
	"time"

	"github.com/cyverse-de/dbutil"
	"github.com/pkg/errors"
)

// PoolSettings bounds the ledger connection pool. Zero values leave the
// corresponding driver default in place.
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// InitDatabase establishes a database connection, verifies that the database
// can be reached, and applies the configured pool bounds. Every inbox
// operation runs in its own short transaction, so the pool is what actually
// limits concurrent ledger work.
func InitDatabase(driverName, databaseURI string, pool PoolSettings) (*sql.DB, error) {
	wrapMsg := "unable to initialize the database"

	// Create a database connector to establish the connection.
	connector, err := dbutil.NewDefaultConnector("1m")
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	// Establish the database connection.
	db, err := connector.Connect(driverName, databaseURI)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	applyPoolSettings(db, pool)
	return db, nil
}

// applyPoolSettings applies the non-zero pool bounds to a database handle.
func applyPoolSettings(db *sql.DB, pool PoolSettings) {
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
}
