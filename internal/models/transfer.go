package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidTransition is returned when a status change would move a
	// transfer backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidProgress is returned for progress outside 0..100 or a
	// progress of 100 on a transfer that is not completed.
	ErrInvalidProgress = errors.New("invalid progress")
	// ErrReceiverConflict is returned when a transfer already claimed by
	// one receiver is claimed by another.
	ErrReceiverConflict = errors.New("transfer already claimed by another device")
	// ErrInvalidInput marks rejected insert payloads.
	ErrInvalidInput = errors.New("invalid input")
)

// TransferStatus is the persisted lifecycle state of a transfer
type TransferStatus string

const (
	StatusPending    TransferStatus = "pending"
	StatusInProgress TransferStatus = "in_progress"
	StatusCompleted  TransferStatus = "completed"
	StatusFailed     TransferStatus = "failed"
	StatusCancelled  TransferStatus = "cancelled"
)

// Valid reports whether s is a known status
func (s TransferStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s
func (s TransferStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s TransferStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	}
	return 2
}

// CanTransitionTo reports whether moving from s to next keeps the state
// machine forward-only. Re-asserting the current status is allowed.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// TransferMethod is how the sender intends to deliver the bytes. Only
// MethodQRCode has behaviour; the others are accepted placeholders.
type TransferMethod string

const (
	MethodQRCode     TransferMethod = "qr_code"
	MethodWifiDirect TransferMethod = "wifi_direct"
	MethodInternet   TransferMethod = "internet"
)

// Valid reports whether m is a known method
func (m TransferMethod) Valid() bool {
	switch m {
	case MethodQRCode, MethodWifiDirect, MethodInternet:
		return true
	}
	return false
}

// ApplicationFileType is the file_type sentinel used for shared applications
const ApplicationFileType = "application"

// Transfer represents one file or application share attempt
type Transfer struct {
	ID               string         `json:"id"`
	SenderDeviceID   string         `json:"sender_device_id"`
	ReceiverDeviceID *string        `json:"receiver_device_id"`
	FileName         string         `json:"file_name"`
	FileSize         int64          `json:"file_size"`
	FileType         string         `json:"file_type"`
	FileURL          *string        `json:"file_url"`
	TransferMethod   TransferMethod `json:"transfer_method"`
	Status           TransferStatus `json:"status"`
	Progress         int            `json:"progress"`
	EncryptionKey    *string        `json:"encryption_key"`
	QRCodeData       *string        `json:"qr_code_data"`
	ApplicationID    *string        `json:"application_id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Involves reports whether deviceID is the sender or the receiver
func (t *Transfer) Involves(deviceID string) bool {
	if t.SenderDeviceID == deviceID {
		return true
	}
	return t.ReceiverDeviceID != nil && *t.ReceiverDeviceID == deviceID
}

// TransferInsert is the body accepted when creating a transfer
type TransferInsert struct {
	SenderDeviceID string         `json:"sender_device_id"`
	FileName       string         `json:"file_name"`
	FileSize       int64          `json:"file_size"`
	FileType       string         `json:"file_type"`
	FileURL        *string        `json:"file_url,omitempty"`
	TransferMethod TransferMethod `json:"transfer_method,omitempty"`
	EncryptionKey  *string        `json:"encryption_key,omitempty"`
	QRCodeData     *string        `json:"qr_code_data,omitempty"`
	ApplicationID  *string        `json:"application_id,omitempty"`
}

// Validate checks the insert and fills defaults
func (in *TransferInsert) Validate() error {
	if strings.TrimSpace(in.SenderDeviceID) == "" {
		return fmt.Errorf("%w: sender_device_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.FileName) == "" {
		return fmt.Errorf("%w: file_name is required", ErrInvalidInput)
	}
	if in.FileSize < 0 {
		return fmt.Errorf("%w: file_size must not be negative", ErrInvalidInput)
	}
	if in.FileType == "" {
		in.FileType = "application/octet-stream"
	}
	if in.TransferMethod == "" {
		in.TransferMethod = MethodQRCode
	}
	if !in.TransferMethod.Valid() {
		return fmt.Errorf("%w: unknown transfer_method %q", ErrInvalidInput, in.TransferMethod)
	}
	return nil
}

// NewTransferFromInsert builds a pending transfer row
func NewTransferFromInsert(id string, in TransferInsert, now time.Time) *Transfer {
	return &Transfer{
		ID:             id,
		SenderDeviceID: in.SenderDeviceID,
		FileName:       in.FileName,
		FileSize:       in.FileSize,
		FileType:       in.FileType,
		FileURL:        in.FileURL,
		TransferMethod: in.TransferMethod,
		Status:         StatusPending,
		Progress:       0,
		EncryptionKey:  in.EncryptionKey,
		QRCodeData:     in.QRCodeData,
		ApplicationID:  in.ApplicationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TransferUpdate is a partial update; nil fields are left untouched
type TransferUpdate struct {
	Status           *TransferStatus `json:"status,omitempty"`
	Progress         *int            `json:"progress,omitempty"`
	ReceiverDeviceID *string         `json:"receiver_device_id,omitempty"`
	FileURL          *string         `json:"file_url,omitempty"`
	QRCodeData       *string         `json:"qr_code_data,omitempty"`
}

// Empty reports whether the update carries no fields
func (u TransferUpdate) Empty() bool {
	return u.Status == nil && u.Progress == nil && u.ReceiverDeviceID == nil &&
		u.FileURL == nil && u.QRCodeData == nil
}

// Apply merges u into t while keeping the lifecycle invariants: status only
// moves forward, progress never decreases, and progress is 100 exactly
// when the transfer is completed.
func (t *Transfer) Apply(u TransferUpdate, now time.Time) error {
	status := t.Status
	if u.Status != nil {
		if !t.Status.CanTransitionTo(*u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, *u.Status)
		}
		status = *u.Status
	}

	progress := t.Progress
	if u.Progress != nil {
		p := *u.Progress
		if p < 0 || p > 100 {
			return fmt.Errorf("%w: %d", ErrInvalidProgress, p)
		}
		if p > progress {
			progress = p
		}
	}
	if status == StatusCompleted {
		progress = 100
	} else if progress == 100 {
		return fmt.Errorf("%w: 100 requires status %s", ErrInvalidProgress, StatusCompleted)
	}

	if u.ReceiverDeviceID != nil {
		if t.ReceiverDeviceID != nil && *t.ReceiverDeviceID != *u.ReceiverDeviceID {
			return ErrReceiverConflict
		}
		receiver := *u.ReceiverDeviceID
		t.ReceiverDeviceID = &receiver
	}
	if u.FileURL != nil {
		url := *u.FileURL
		t.FileURL = &url
	}
	if u.QRCodeData != nil {
		data := *u.QRCodeData
		t.QRCodeData = &data
	}

	t.Status = status
	t.Progress = progress
	t.UpdatedAt = now
	return nil
}
