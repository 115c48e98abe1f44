package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/storage/migrations"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const transferColumns = `id, sender_device_id, receiver_device_id, file_name, file_size, file_type, file_url,
	transfer_method, status, progress, encryption_key, qr_code_data, application_id, created_at, updated_at`

const sessionColumns = `id, session_code, creator_device_id, is_active, expires_at, created_at`

const notificationColumns = `id, device_id, transfer_id, title, message, is_read, created_at`

// TiDBClient wraps TiDB operations with tracing
type TiDBClient struct {
	db *sql.DB
}

// NewTiDBClient initializes a new TiDB client
func NewTiDBClient(dsn string) (*TiDBClient, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &TiDBClient{db: db}, nil
}

// NewTiDBClientFromDB wraps an already opened handle
func NewTiDBClientFromDB(db *sql.DB) *TiDBClient {
	return &TiDBClient{db: db}
}

// Close closes the database connection
func (tc *TiDBClient) Close() error {
	return tc.db.Close()
}

// RunMigrations applies the embedded goose migrations
func (tc *TiDBClient) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("mysql"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, tc.db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func scanTransfer(s rowScanner) (*models.Transfer, error) {
	var t models.Transfer
	var receiver, fileURL, key, qr, app sql.NullString
	err := s.Scan(
		&t.ID,
		&t.SenderDeviceID,
		&receiver,
		&t.FileName,
		&t.FileSize,
		&t.FileType,
		&fileURL,
		&t.TransferMethod,
		&t.Status,
		&t.Progress,
		&key,
		&qr,
		&app,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ReceiverDeviceID = nullable(receiver)
	t.FileURL = nullable(fileURL)
	t.EncryptionKey = nullable(key)
	t.QRCodeData = nullable(qr)
	t.ApplicationID = nullable(app)
	return &t, nil
}

func scanSession(s rowScanner) (*models.TransferSession, error) {
	var ts models.TransferSession
	if err := s.Scan(&ts.ID, &ts.SessionCode, &ts.CreatorDeviceID, &ts.IsActive, &ts.ExpiresAt, &ts.CreatedAt); err != nil {
		return nil, err
	}
	return &ts, nil
}

func scanNotification(s rowScanner) (*models.Notification, error) {
	var n models.Notification
	var transferID sql.NullString
	if err := s.Scan(&n.ID, &n.DeviceID, &transferID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.TransferID = nullable(transferID)
	return &n, nil
}

// CreateTransfer inserts a transfer row with tracing
func (tc *TiDBClient) CreateTransfer(ctx context.Context, t *models.Transfer) error {
	ctx, span := tracer.Start(ctx, "tidb.create_transfer",
		trace.WithAttributes(
			attribute.String("transfer_id", t.ID),
			attribute.String("file_name", t.FileName),
			attribute.Int64("file_size", t.FileSize),
		),
	)
	defer span.End()

	query := `INSERT INTO transfers (` + transferColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := tc.db.ExecContext(ctx, query,
		t.ID, t.SenderDeviceID, t.ReceiverDeviceID, t.FileName, t.FileSize, t.FileType, t.FileURL,
		t.TransferMethod, t.Status, t.Progress, t.EncryptionKey, t.QRCodeData, t.ApplicationID,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

// GetTransfer retrieves a transfer by id
func (tc *TiDBClient) GetTransfer(ctx context.Context, id string) (*models.Transfer, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_transfer",
		trace.WithAttributes(attribute.String("transfer_id", id)),
	)
	defer span.End()

	t, err := scanTransfer(tc.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query transfer: %w", err)
	}
	return t, nil
}

// UpdateTransfer locks the row, applies the update and writes it back
func (tc *TiDBClient) UpdateTransfer(ctx context.Context, id string, u models.TransferUpdate, now time.Time) (*models.Transfer, error) {
	ctx, span := tracer.Start(ctx, "tidb.update_transfer",
		trace.WithAttributes(attribute.String("transfer_id", id)),
	)
	defer span.End()

	tx, err := tc.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTransfer(tx.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to lock transfer: %w", err)
	}

	if err := t.Apply(u, now); err != nil {
		return nil, err
	}

	query := `UPDATE transfers
			  SET receiver_device_id = ?, file_url = ?, status = ?, progress = ?, qr_code_data = ?, updated_at = ?
			  WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, t.ReceiverDeviceID, t.FileURL, t.Status, t.Progress, t.QRCodeData, t.UpdatedAt, t.ID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update transfer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to commit transfer update: %w", err)
	}

	span.SetAttributes(
		attribute.String("status", string(t.Status)),
		attribute.Int("progress", t.Progress),
	)
	return t, nil
}

func (tc *TiDBClient) queryTransfers(ctx context.Context, query string, args ...any) ([]models.Transfer, error) {
	rows, err := tc.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	transfers := []models.Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}
	return transfers, nil
}

// ListTransfers returns transfers sent or received by deviceID, newest first
func (tc *TiDBClient) ListTransfers(ctx context.Context, deviceID string) ([]models.Transfer, error) {
	ctx, span := tracer.Start(ctx, "tidb.list_transfers",
		trace.WithAttributes(attribute.String("device_id", deviceID)),
	)
	defer span.End()

	transfers, err := tc.queryTransfers(ctx,
		`SELECT `+transferColumns+` FROM transfers
		 WHERE sender_device_id = ? OR receiver_device_id = ?
		 ORDER BY created_at DESC, id ASC`,
		deviceID, deviceID,
	)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("transfer_count", len(transfers)))
	return transfers, nil
}

// LatestPendingTransfer returns the sender's most recent pending transfer
func (tc *TiDBClient) LatestPendingTransfer(ctx context.Context, senderDeviceID string) (*models.Transfer, error) {
	ctx, span := tracer.Start(ctx, "tidb.latest_pending_transfer",
		trace.WithAttributes(attribute.String("device_id", senderDeviceID)),
	)
	defer span.End()

	transfers, err := tc.queryTransfers(ctx,
		`SELECT `+transferColumns+` FROM transfers
		 WHERE sender_device_id = ? AND status = ?
		 ORDER BY created_at DESC, id ASC LIMIT 1`,
		senderDeviceID, models.StatusPending,
	)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(transfers) == 0 {
		return nil, fmt.Errorf("pending transfer from %s: %w", senderDeviceID, ErrNotFound)
	}
	return &transfers[0], nil
}

// CreateSession inserts a receive-mode session
func (tc *TiDBClient) CreateSession(ctx context.Context, s *models.TransferSession) error {
	ctx, span := tracer.Start(ctx, "tidb.create_session")
	defer span.End()

	query := `INSERT INTO transfer_sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tc.db.ExecContext(ctx, query, s.ID, s.SessionCode, s.CreatorDeviceID, s.IsActive, s.ExpiresAt, s.CreatedAt); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// ClaimSession deactivates the newest active, unexpired session for code
func (tc *TiDBClient) ClaimSession(ctx context.Context, code string, now time.Time) (*models.TransferSession, error) {
	ctx, span := tracer.Start(ctx, "tidb.claim_session",
		trace.WithAttributes(attribute.String("session_code", code)),
	)
	defer span.End()

	tx, err := tc.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	s, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM transfer_sessions
		 WHERE session_code = ? AND is_active = TRUE AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`,
		code, now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", code, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE transfer_sessions SET is_active = FALSE WHERE id = ?`, s.ID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to deactivate session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to commit session claim: %w", err)
	}

	s.IsActive = false
	return s, nil
}

// CreateNotification inserts an unread notification
func (tc *TiDBClient) CreateNotification(ctx context.Context, n *models.Notification) error {
	ctx, span := tracer.Start(ctx, "tidb.create_notification")
	defer span.End()

	query := `INSERT INTO notifications (` + notificationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tc.db.ExecContext(ctx, query, n.ID, n.DeviceID, n.TransferID, n.Title, n.Message, n.IsRead, n.CreatedAt); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a device's notifications, newest first
func (tc *TiDBClient) ListNotifications(ctx context.Context, deviceID string) ([]models.Notification, error) {
	ctx, span := tracer.Start(ctx, "tidb.list_notifications")
	defer span.End()

	rows, err := tc.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE device_id = ? ORDER BY created_at DESC, id ASC`, deviceID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead flips is_read and returns the row
func (tc *TiDBClient) MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error) {
	ctx, span := tracer.Start(ctx, "tidb.mark_notification_read")
	defer span.End()

	if _, err := tc.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = ?`, id); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}

	n, err := scanNotification(tc.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query notification: %w", err)
	}
	return n, nil
}

// MarkAllNotificationsRead flips every unread notification of a device
func (tc *TiDBClient) MarkAllNotificationsRead(ctx context.Context, deviceID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "tidb.mark_all_notifications_read")
	defer span.End()

	res, err := tc.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE device_id = ? AND is_read = FALSE`, deviceID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to update notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// UpsertProfile registers a device, keeping the original row if present
func (tc *TiDBClient) UpsertProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	ctx, span := tracer.Start(ctx, "tidb.upsert_profile")
	defer span.End()

	query := `INSERT INTO profiles (id, device_id, display_name, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
				display_name = COALESCE(VALUES(display_name), display_name),
				updated_at = VALUES(updated_at)`
	if _, err := tc.db.ExecContext(ctx, query, p.ID, p.DeviceID, p.DisplayName, p.CreatedAt, p.UpdatedAt); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}

	var out models.Profile
	var name sql.NullString
	err := tc.db.QueryRowContext(ctx,
		`SELECT id, device_id, display_name, created_at, updated_at FROM profiles WHERE device_id = ?`, p.DeviceID,
	).Scan(&out.ID, &out.DeviceID, &name, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	out.DisplayName = nullable(name)
	return &out, nil
}

// SaveUpload records upload metadata and its chunks in one transaction
func (tc *TiDBClient) SaveUpload(ctx context.Context, u *models.FileUpload, chunks []*models.Chunk) error {
	ctx, span := tracer.Start(ctx, "tidb.save_upload",
		trace.WithAttributes(
			attribute.String("transfer_id", u.TransferID),
			attribute.Int("chunk_count", len(chunks)),
		),
	)
	defer span.End()

	tx, err := tc.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM file_chunks WHERE file_transfer_id IN (SELECT id FROM file_transfers WHERE transfer_id = ?)`,
		u.TransferID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_transfers WHERE transfer_id = ?`, u.TransferID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to clear previous upload: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO file_transfers (id, transfer_id, file_size, chunk_size, total_chunks, uploaded_chunks, download_url, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.TransferID, u.FileSize, u.ChunkSize, u.TotalChunks, u.UploadedChunks, u.DownloadURL, u.ExpiresAt, u.CreatedAt,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert upload: %w", err)
	}

	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_chunks (id, file_transfer_id, chunk_number, checksum, object_key, size) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.FileUploadID, c.ChunkNumber, c.Checksum, c.ObjectKey, c.Size,
		); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert chunk %d: %w", c.ChunkNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit upload: %w", err)
	}
	return nil
}

// GetUpload returns the stored upload for a transfer
func (tc *TiDBClient) GetUpload(ctx context.Context, transferID string) (*models.FileUpload, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_upload",
		trace.WithAttributes(attribute.String("transfer_id", transferID)),
	)
	defer span.End()

	var u models.FileUpload
	err := tc.db.QueryRowContext(ctx,
		`SELECT id, transfer_id, file_size, chunk_size, total_chunks, uploaded_chunks, download_url, expires_at, created_at
		 FROM file_transfers WHERE transfer_id = ?`, transferID,
	).Scan(&u.ID, &u.TransferID, &u.FileSize, &u.ChunkSize, &u.TotalChunks, &u.UploadedChunks, &u.DownloadURL, &u.ExpiresAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("upload for %s: %w", transferID, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query upload: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return &u, nil
}

// GetChunks retrieves all chunks for an upload ordered by chunk_number
func (tc *TiDBClient) GetChunks(ctx context.Context, uploadID string) ([]*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_chunks",
		trace.WithAttributes(attribute.String("upload_id", uploadID)),
	)
	defer span.End()

	rows, err := tc.db.QueryContext(ctx,
		`SELECT id, file_transfer_id, chunk_number, checksum, object_key, size
		 FROM file_chunks
		 WHERE file_transfer_id = ?
		 ORDER BY chunk_number ASC`, uploadID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.FileUploadID, &c.ChunkNumber, &c.Checksum, &c.ObjectKey, &c.Size); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	return chunks, nil
}
