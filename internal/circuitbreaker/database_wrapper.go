package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const databaseBreakerName = "database"

// DatabaseWrapper guards sqlx calls made by the session archive.
// sql.ErrNoRows is a normal miss and never counts as a failure.
type DatabaseWrapper struct {
	db      *sqlx.DB
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewDatabaseWrapper wraps db with the database preset.
func NewDatabaseWrapper(db *sqlx.DB, service string, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker(databaseBreakerName, GetDatabaseConfig().ToConfig(), logger)
	registry.track(service, databaseBreakerName, cb)
	return &DatabaseWrapper{db: db, cb: cb, service: service, logger: logger}
}

func (dw *DatabaseWrapper) run(ctx context.Context, fn func() error) error {
	var callErr error
	err := dw.cb.Execute(ctx, func() error {
		callErr = fn()
		if errors.Is(callErr, sql.ErrNoRows) {
			return nil
		}
		return callErr
	})
	recordCall(dw.service, databaseBreakerName, err)
	if err != nil {
		return err
	}
	return callErr
}

// PingContext checks connectivity.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.run(ctx, func() error { return dw.db.PingContext(ctx) })
}

// ExecContext runs a statement.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.run(ctx, func() error {
		var execErr error
		result, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// NamedExecContext runs a statement with named parameters bound from arg.
func (dw *DatabaseWrapper) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.run(ctx, func() error {
		var execErr error
		result, execErr = dw.db.NamedExecContext(ctx, query, arg)
		return execErr
	})
	return result, err
}

// GetContext scans a single row into dest.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.run(ctx, func() error { return dw.db.GetContext(ctx, dest, query, args...) })
}

// SelectContext scans all rows into dest.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.run(ctx, func() error { return dw.db.SelectContext(ctx, dest, query, args...) })
}

// Rebind converts ? placeholders to the driver's bindvar style.
func (dw *DatabaseWrapper) Rebind(query string) string {
	return dw.db.Rebind(query)
}

// DriverName returns the driver the connection was opened with.
func (dw *DatabaseWrapper) DriverName() string {
	return dw.db.DriverName()
}

// Close closes the pool.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// IsCircuitBreakerOpen reports whether calls are currently rejected.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
