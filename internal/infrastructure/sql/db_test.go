package sql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgate/internal/domain/outcome"
	"sqlgate/internal/domain/query"
)

func newSQLMock(t *testing.T, driver string) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &DB{DB: db, Driver: driver}, mock
}

func TestExecuteReadReturnsRows(t *testing.T) {
	db, mock := newSQLMock(t, "postgres")
	mock.ExpectQuery(regexp.QuoteMeta("select * from repairs LIMIT 100")).
		WillReturnRows(sqlmock.NewRows([]string{"repair_id", "panel_name"}).
			AddRow(int64(1), []byte("front_bumper")).
			AddRow(int64(2), "door_left"))

	out := db.Execute(context.Background(), "select * from repairs LIMIT 100", query.KindSelect)

	assert.Equal(t, outcome.KindRows, out.Kind)
	assert.Equal(t, []string{"repair_id", "panel_name"}, out.Columns)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "front_bumper", out.Rows[0]["panel_name"])
	assert.Equal(t, int64(2), out.Rows[1]["repair_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteEmptyRead(t *testing.T) {
	db, mock := newSQLMock(t, "postgres")
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	out := db.Execute(context.Background(), "SELECT id FROM quotes LIMIT 100", query.KindSelect)

	assert.True(t, out.Empty())
	assert.NotNil(t, out.Rows)
}

func TestExecuteWriteReturnsRowsAffected(t *testing.T) {
	db, mock := newSQLMock(t, "postgres")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM repairs WHERE repair_id = 10;")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	out := db.Execute(context.Background(), "DELETE FROM repairs WHERE repair_id = 10;", query.KindDelete)

	assert.Equal(t, outcome.Mutation(1), out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteFailureIsAnOutcome(t *testing.T) {
	db, mock := newSQLMock(t, "postgres")
	mock.ExpectExec("DROP").WillReturnError(errors.New(`table "quotes" does not exist`))

	out := db.Execute(context.Background(), "DROP TABLE quotes", query.KindDrop)

	assert.True(t, out.Failed())
	assert.Equal(t, `table "quotes" does not exist`, out.Err)
}

func TestExecuteTimeout(t *testing.T) {
	db, mock := newSQLMock(t, "postgres")
	mock.ExpectExec("UPDATE").WillDelayFor(200 * time.Millisecond).WillReturnResult(sqlmock.NewResult(0, 5))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	out := db.Execute(ctx, "UPDATE repairs SET approved = true", query.KindUpdate)

	assert.True(t, out.Failed())
	assert.Equal(t, "execution timed out", out.Err)
}

func TestSchemaMetadataReadsUseQuery(t *testing.T) {
	db, mock := newSQLMock(t, "sqlite3")
	mock.ExpectQuery("PRAGMA").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("repairs"))

	out := db.Execute(context.Background(), "PRAGMA table_list", query.KindSchemaMetadataAccess)

	assert.Equal(t, outcome.KindRows, out.Kind)
	assert.Len(t, out.Rows, 1)
}
