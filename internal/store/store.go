// Package store is the persistence gateway. Every database access goes
// through a MySQL stored procedure, one transaction per call, on a
// process-wide pool. Connection-level failures classify as transient so
// the dispatcher can drop the operation without killing the session;
// everything else is fatal for the requesting connection.
package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

const (
	maxOpenConns = 16
	maxIdleConns = 4
)

// ErrTransient marks connection-level database failures. Callers drop
// the affected operation and keep the session alive.
var ErrTransient = errors.New("store: transient failure")

// ErrUserIDRange reports a login with a user id below the reserved
// range; such logins are not persisted.
var ErrUserIDRange = errors.New("store: user id must be at least 1000")

// DB wraps the MySQL pool behind the stored-procedure surface.
type DB struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// Open connects to MySQL, verifies the connection, and configures the
// shared pool. The driver re-checks connection liveness on reuse.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{db: db, log: logger}, nil
}

// Close releases the pool.
func (db *DB) Close() error {
	return db.db.Close()
}

// withTx runs one stored-procedure call in its own transaction,
// committing on success and rolling back on any error.
func (db *DB) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	db.log.Debug().Str("call", op).Msg("stored procedure committed")
	return nil
}

// classify wraps err for the caller: connection-level errors become
// ErrTransient, everything else (including MySQL server errors) stays
// fatal.
func classify(op string, err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.EOF) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

// joinInfo renders the "name.avatar" pair the protocol expects from
// user and group queries. Consumers split on the first dot.
func joinInfo(name, avatar string) string {
	return name + "." + avatar
}
