package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockWrapper(t *testing.T) (*DatabaseWrapper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDatabaseWrapper(sqlx.NewDb(db, "postgres"), "test-archive", zaptest.NewLogger(t)), mock
}

func TestDatabaseWrapper_Operations(t *testing.T) {
	dw, mock := newMockWrapper(t)
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, dw.PingContext(ctx))

	mock.ExpectExec("DELETE FROM research_sessions").
		WithArgs("abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := dw.ExecContext(ctx, "DELETE FROM research_sessions WHERE id = $1", "abc")
	require.NoError(t, err)
	affected, _ := res.RowsAffected()
	assert.Equal(t, int64(1), affected)

	mock.ExpectQuery("SELECT id FROM research_sessions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))
	var ids []string
	require.NoError(t, dw.SelectContext(ctx, &ids, "SELECT id FROM research_sessions"))
	assert.Equal(t, []string{"a", "b"}, ids)

	assert.Equal(t, "SELECT 1 WHERE a = $1", dw.Rebind("SELECT 1 WHERE a = ?"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapper_NoRowsIsNotFailure(t *testing.T) {
	dw, mock := newMockWrapper(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		mock.ExpectQuery("SELECT id").WillReturnError(sql.ErrNoRows)
		var id string
		assert.ErrorIs(t, dw.GetContext(ctx, &id, "SELECT id FROM research_sessions WHERE id = $1", "x"), sql.ErrNoRows)
	}
	assert.False(t, dw.IsCircuitBreakerOpen())
}

func TestDatabaseWrapper_OpensOnErrors(t *testing.T) {
	dw, mock := newMockWrapper(t)
	ctx := context.Background()
	dbErr := errors.New("connection reset")

	for i := 0; i < 5; i++ {
		mock.ExpectExec("INSERT").WillReturnError(dbErr)
		_, err := dw.ExecContext(ctx, "INSERT INTO research_sessions (id) VALUES ($1)", "x")
		assert.ErrorIs(t, err, dbErr)
	}
	assert.True(t, dw.IsCircuitBreakerOpen())

	_, err := dw.ExecContext(ctx, "INSERT INTO research_sessions (id) VALUES ($1)", "x")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}
