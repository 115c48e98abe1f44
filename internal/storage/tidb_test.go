package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transferCols = []string{
	"id", "sender_device_id", "receiver_device_id", "file_name", "file_size", "file_type", "file_url",
	"transfer_method", "status", "progress", "encryption_key", "qr_code_data", "application_id", "created_at", "updated_at",
}

func newTiDBWithMock(t *testing.T) (*TiDBClient, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewTiDBClientFromDB(db), mock, db
}

func transferRow(status string, progress int, receiver any, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(transferCols).AddRow(
		"t-1", "dev-a", receiver, "photo.jpg", int64(2048), "image/jpeg", nil,
		"qr_code", status, progress, "key", nil, nil, at, at,
	)
}

func TestTiDB_GetTransfer(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		tc, mock, db := newTiDBWithMock(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT .+ FROM transfers WHERE id = \?`).
			WithArgs("t-1").
			WillReturnRows(transferRow("pending", 0, nil, at))

		got, err := tc.GetTransfer(context.Background(), "t-1")
		require.NoError(t, err)
		assert.Equal(t, "photo.jpg", got.FileName)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Nil(t, got.ReceiverDeviceID)
		require.NotNil(t, got.EncryptionKey)
		assert.Equal(t, "key", *got.EncryptionKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		tc, mock, db := newTiDBWithMock(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT .+ FROM transfers WHERE id = \?`).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(transferCols))

		_, err := tc.GetTransfer(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTiDB_UpdateTransfer(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := at.Add(time.Minute)

	t.Run("applies update under row lock", func(t *testing.T) {
		tc, mock, db := newTiDBWithMock(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM transfers WHERE id = \? FOR UPDATE`).
			WithArgs("t-1").
			WillReturnRows(transferRow("pending", 0, nil, at))
		mock.ExpectExec(`UPDATE transfers SET receiver_device_id = \?, file_url = \?, status = \?, progress = \?`).
			WithArgs("dev-b", nil, "in_progress", 50, nil, now, "t-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		status := models.StatusInProgress
		progress := 50
		receiver := "dev-b"
		got, err := tc.UpdateTransfer(context.Background(), "t-1", models.TransferUpdate{
			Status:           &status,
			Progress:         &progress,
			ReceiverDeviceID: &receiver,
		}, now)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, got.Status)
		assert.Equal(t, 50, got.Progress)
		assert.Equal(t, now, got.UpdatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects backwards transition", func(t *testing.T) {
		tc, mock, db := newTiDBWithMock(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM transfers WHERE id = \? FOR UPDATE`).
			WillReturnRows(transferRow("completed", 100, "dev-b", at))
		mock.ExpectRollback()

		status := models.StatusInProgress
		_, err := tc.UpdateTransfer(context.Background(), "t-1", models.TransferUpdate{Status: &status}, now)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		tc, mock, db := newTiDBWithMock(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows(transferCols))
		mock.ExpectRollback()

		_, err := tc.UpdateTransfer(context.Background(), "t-1", models.TransferUpdate{}, now)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTiDB_ClaimSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "session_code", "creator_device_id", "is_active", "expires_at", "created_at"}

	t.Run("claims active session", func(t *testing.T) {
		tc, mock, db := newTiDBWithMock(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM transfer_sessions WHERE session_code = \? AND is_active = TRUE AND expires_at > \?`).
			WithArgs("ABC123", now).
			WillReturnRows(sqlmock.NewRows(cols).AddRow("s-1", "ABC123", "dev-a", true, now.Add(10*time.Minute), now))
		mock.ExpectExec(`UPDATE transfer_sessions SET is_active = FALSE WHERE id = \?`).
			WithArgs("s-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		got, err := tc.ClaimSession(context.Background(), "ABC123", now)
		require.NoError(t, err)
		assert.Equal(t, "dev-a", got.CreatorDeviceID)
		assert.False(t, got.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired or unknown code", func(t *testing.T) {
		tc, mock, db := newTiDBWithMock(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM transfer_sessions`).WillReturnRows(sqlmock.NewRows(cols))
		mock.ExpectRollback()

		_, err := tc.ClaimSession(context.Background(), "ABC123", now)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTiDB_MarkAllNotificationsRead(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE notifications SET is_read = TRUE WHERE device_id = \? AND is_read = FALSE`).
		WithArgs("dev-a").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := tc.MarkAllNotificationsRead(context.Background(), "dev-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTiDB_SaveUploadAndChunks(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	upload := &models.FileUpload{ID: "u-1", TransferID: "t-1", FileSize: 10, ChunkSize: 65536, TotalChunks: 2, UploadedChunks: 2, ExpiresAt: now, CreatedAt: now}
	chunks := []*models.Chunk{
		{ID: "c-0", FileUploadID: "u-1", ChunkNumber: 0, Checksum: "h0", ObjectKey: "chunks/t-1/0", Size: 6},
		{ID: "c-1", FileUploadID: "u-1", ChunkNumber: 1, Checksum: "h1", ObjectKey: "chunks/t-1/1", Size: 4},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM file_chunks`).WithArgs("t-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM file_transfers WHERE transfer_id = \?`).WithArgs("t-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO file_transfers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO file_chunks`).WithArgs("c-0", "u-1", 0, "h0", "chunks/t-1/0", int64(6)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO file_chunks`).WithArgs("c-1", "u-1", 1, "h1", "chunks/t-1/1", int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, tc.SaveUpload(context.Background(), upload, chunks))

	mock.ExpectQuery(`SELECT .+ FROM file_chunks WHERE file_transfer_id = \? ORDER BY chunk_number ASC`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_transfer_id", "chunk_number", "checksum", "object_key", "size"}).
			AddRow("c-0", "u-1", 0, "h0", "chunks/t-1/0", int64(6)).
			AddRow("c-1", "u-1", 1, "h1", "chunks/t-1/1", int64(4)))

	got, err := tc.GetChunks(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "chunks/t-1/1", got[1].ObjectKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}
