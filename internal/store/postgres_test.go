package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recibo/invoicer/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newStoreWithMock(t *testing.T) (*Postgres, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgres(db, testLogger()), mock, db
}

func folderRow(id int64, high, low any) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "source_id", "folder_name", "uid_validity",
		"high_water_mark", "low_water_mark", "last_processed_at", "created_at", "updated_at",
	}).AddRow(id, 1, "INBOX", "100", high, low, nil, now, now)
}

func TestFindFolder_NotFound(t *testing.T) {
	st, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM source_folder\s+WHERE source_id = \$1 AND folder_name = \$2 AND uid_validity = \$3`).
		WithArgs(int64(1), "INBOX", "100").
		WillReturnError(sql.ErrNoRows)

	_, err := st.FindFolder(context.Background(), 1, "INBOX", "100")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindFolder_Found(t *testing.T) {
	st, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM source_folder\s+WHERE source_id = \$1`).
		WithArgs(int64(1), "INBOX", "100").
		WillReturnRows(folderRow(42, int64(90), int64(10)))

	f, err := st.FindFolder(context.Background(), 1, "INBOX", "100")
	require.NoError(t, err)
	assert.Equal(t, int64(42), f.ID)
	require.NotNil(t, f.HighWaterMark)
	assert.Equal(t, int64(90), *f.HighWaterMark)
	require.NotNil(t, f.LowWaterMark)
	assert.Equal(t, int64(10), *f.LowWaterMark)
}

func TestCreateFolder_NullWatermarks(t *testing.T) {
	st, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO source_folder .* RETURNING`).
		WithArgs(int64(1), "INBOX", "100").
		WillReturnRows(folderRow(7, nil, nil))

	f, err := st.CreateFolder(context.Background(), 1, "INBOX", "100")
	require.NoError(t, err)
	assert.Nil(t, f.HighWaterMark)
	assert.Nil(t, f.LowWaterMark)
}

func TestCommitChunk_InsertsAndExpandsWatermarks(t *testing.T) {
	st, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT high_water_mark, low_water_mark FROM source_folder WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"high_water_mark", "low_water_mark"}).
			AddRow(int64(100), int64(50)))
	mock.ExpectExec(`INSERT INTO invoice .* ON CONFLICT \(invoice_number\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Chunk covers 101..110: high expands to 110, low stays at 50.
	mock.ExpectExec(`UPDATE source_folder\s+SET high_water_mark = \$1, low_water_mark = \$2`).
		WithArgs(int64(110), int64(50), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	invoices := []*models.Invoice{{UserID: "u1", SourceID: 1, UID: 105, InvoiceNumber: "INV-105"}}
	err := st.CommitChunk(context.Background(), 42, invoices, []int64{101, 105, 110})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitChunk_FirstCommitSetsBothWatermarks(t *testing.T) {
	st, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT high_water_mark, low_water_mark FROM source_folder WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"high_water_mark", "low_water_mark"}).
			AddRow(nil, nil))
	mock.ExpectExec(`UPDATE source_folder\s+SET high_water_mark = \$1, low_water_mark = \$2`).
		WithArgs(int64(20), int64(11), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.CommitChunk(context.Background(), 42, nil, []int64{11, 12, 20})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitChunk_WatermarksNeverShrink(t *testing.T) {
	st, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT high_water_mark, low_water_mark FROM source_folder WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"high_water_mark", "low_water_mark"}).
			AddRow(int64(200), int64(5)))
	// Chunk 50..60 lies entirely inside the covered range.
	mock.ExpectExec(`UPDATE source_folder\s+SET high_water_mark = \$1, low_water_mark = \$2`).
		WithArgs(int64(200), int64(5), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.CommitChunk(context.Background(), 42, nil, []int64{50, 60})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitChunk_InsertFailureRollsBack(t *testing.T) {
	st, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT high_water_mark, low_water_mark FROM source_folder WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"high_water_mark", "low_water_mark"}).
			AddRow(nil, nil))
	mock.ExpectExec(`INSERT INTO invoice`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	invoices := []*models.Invoice{{InvoiceNumber: "INV-1", UID: 1}}
	err := st.CommitChunk(context.Background(), 42, invoices, []int64{1})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitChunk_MissingFolder(t *testing.T) {
	st, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT high_water_mark, low_water_mark FROM source_folder WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := st.CommitChunk(context.Background(), 9, nil, []int64{1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitChunk_EmptyAttemptedRejected(t *testing.T) {
	st, _, db := newStoreWithMock(t)
	defer db.Close()

	err := st.CommitChunk(context.Background(), 42, nil, nil)
	assert.Error(t, err)
}

func TestListSources(t *testing.T) {
	st, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := time.Now()
	expires := now.Add(time.Hour)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "name", "email_address", "source_type",
		"oauth2_access_token", "oauth2_refresh_token", "oauth2_access_token_expires_at",
		"created_at", "updated_at",
	}).
		AddRow(1, "u1", "personal", "a@test", "gmail", "at", "rt", expires, now, now).
		AddRow(2, "u2", "work", "b@test", "gmail", nil, nil, nil, now, now)

	mock.ExpectQuery(`SELECT .* FROM source ORDER BY id`).WillReturnRows(rows)

	sources, err := st.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "at", sources[0].AccessToken)
	require.NotNil(t, sources[0].AccessTokenExpiresAt)
	assert.Empty(t, sources[1].AccessToken)
	assert.Nil(t, sources[1].AccessTokenExpiresAt)
}
