// Package records is the device-side view of transfer and session rows.
//
// Every backend failure is logged here and returned as a
// *PersistenceError, or as ErrNotFound when the row does not exist.
// A non-nil error always means the operation did not complete.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/maneesh/qrshare/internal/api"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/payload"
)

// ErrNotFound is returned when no transfer or session matches
var ErrNotFound = errors.New("record not found")

// PersistenceError reports a rejected or failed backend call
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Identity supplies the local device id
type Identity interface {
	DeviceID() string
}

// Manager creates, updates and lists transfer rows for the local device
type Manager struct {
	client   *api.Client
	identity Identity
	logger   logging.Logger
}

func NewManager(client *api.Client, identity Identity, logger logging.Logger) *Manager {
	return &Manager{
		client:   client,
		identity: identity,
		logger:   logger.With("component", "records"),
	}
}

// DeviceID returns the local device id
func (m *Manager) DeviceID() string {
	return m.identity.DeviceID()
}

func (m *Manager) fail(ctx context.Context, op string, err error, args ...any) error {
	if api.IsNotFound(err) {
		m.logger.Warn(ctx, op+": not found", args...)
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	m.logger.Error(ctx, "failed to "+op, append(args, "error", err)...)
	return &PersistenceError{Op: op, Err: err}
}

// RegisterDevice upserts the profile row of the local device
func (m *Manager) RegisterDevice(ctx context.Context, displayName string) (*models.Profile, error) {
	in := models.ProfileUpsert{DeviceID: m.DeviceID()}
	if displayName != "" {
		in.DisplayName = &displayName
	}
	p, err := m.client.UpsertProfile(ctx, in)
	if err != nil {
		return nil, m.fail(ctx, "register device", err, "device_id", in.DeviceID)
	}
	return p, nil
}

// NewTransfer holds the caller-supplied fields of a transfer
type NewTransfer struct {
	FileName      string
	FileSize      int64
	FileType      string
	Method        models.TransferMethod
	EncryptionKey string
	ApplicationID string
}

// CreateTransfer inserts a pending transfer sent by the local device.
// An encryption key is generated when none is given.
func (m *Manager) CreateTransfer(ctx context.Context, nt NewTransfer) (*models.Transfer, error) {
	key := nt.EncryptionKey
	if key == "" {
		var err error
		if key, err = payload.NewEncryptionKey(); err != nil {
			return nil, m.fail(ctx, "create transfer", err)
		}
	}

	in := models.TransferInsert{
		SenderDeviceID: m.DeviceID(),
		FileName:       nt.FileName,
		FileSize:       nt.FileSize,
		FileType:       nt.FileType,
		TransferMethod: nt.Method,
		EncryptionKey:  &key,
	}
	if nt.ApplicationID != "" {
		in.ApplicationID = &nt.ApplicationID
	}

	t, err := m.client.CreateTransfer(ctx, in)
	if err != nil {
		return nil, m.fail(ctx, "create transfer", err, "file_name", nt.FileName)
	}
	m.logger.Info(ctx, "transfer created", "transfer_id", t.ID, "file_name", t.FileName)
	return t, nil
}

// UpdateTransfer applies a partial update
func (m *Manager) UpdateTransfer(ctx context.Context, id string, u models.TransferUpdate) (*models.Transfer, error) {
	t, err := m.client.UpdateTransfer(ctx, id, u)
	if err != nil {
		return nil, m.fail(ctx, "update transfer", err, "transfer_id", id)
	}
	return t, nil
}

func (m *Manager) GetTransfer(ctx context.Context, id string) (*models.Transfer, error) {
	t, err := m.client.GetTransfer(ctx, id)
	if err != nil {
		return nil, m.fail(ctx, "get transfer", err, "transfer_id", id)
	}
	return t, nil
}

// ListTransfers returns transfers sent or received by deviceID, newest first
func (m *Manager) ListTransfers(ctx context.Context, deviceID string) ([]models.Transfer, error) {
	list, err := m.client.ListTransfers(ctx, deviceID)
	if err != nil {
		return nil, m.fail(ctx, "list transfers", err, "device_id", deviceID)
	}
	return list, nil
}

// LatestPendingFrom returns the most recent pending transfer of a sender
func (m *Manager) LatestPendingFrom(ctx context.Context, senderDeviceID string) (*models.Transfer, error) {
	t, err := m.client.LatestPendingTransfer(ctx, senderDeviceID)
	if err != nil {
		return nil, m.fail(ctx, "find pending transfer", err, "sender_device_id", senderDeviceID)
	}
	return t, nil
}

// Subscribe calls onChange with a fresh list after every change to a
// transfer involving deviceID. Intermediate states may be skipped. The
// returned func stops the subscription and waits for any running onChange.
func (m *Manager) Subscribe(ctx context.Context, deviceID string, onChange func([]models.Transfer)) (func(), error) {
	stop, err := m.client.Follow(ctx, models.TableTransfers, deviceID, func(ctx context.Context) {
		list, err := m.ListTransfers(ctx, deviceID)
		if err != nil {
			return
		}
		onChange(list)
	})
	if err != nil {
		return nil, m.fail(ctx, "subscribe to transfers", err, "device_id", deviceID)
	}
	return stop, nil
}

// CreateSession opens a receive-mode session with a fresh code
func (m *Manager) CreateSession(ctx context.Context) (*models.TransferSession, error) {
	code, err := payload.NewSessionCode()
	if err != nil {
		return nil, m.fail(ctx, "create session", err)
	}
	s, err := m.client.CreateSession(ctx, models.SessionInsert{
		SessionCode:     code,
		CreatorDeviceID: m.DeviceID(),
	})
	if err != nil {
		return nil, m.fail(ctx, "create session", err, "session_code", code)
	}
	m.logger.Info(ctx, "session created", "session_code", code, "expires_at", s.ExpiresAt)
	return s, nil
}

// ClaimSession deactivates the active, unexpired session with code.
// Expired or already claimed sessions give ErrNotFound.
func (m *Manager) ClaimSession(ctx context.Context, code string) (*models.TransferSession, error) {
	s, err := m.client.ClaimSession(ctx, code)
	if err != nil {
		return nil, m.fail(ctx, "claim session", err, "session_code", code)
	}
	return s, nil
}
