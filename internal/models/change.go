package models

import (
	"encoding/json"
	"slices"
	"time"
)

// Tables that publish change events
const (
	TableTransfers     = "transfers"
	TableNotifications = "notifications"
)

// ChangeType is the kind of row write that produced an event
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
)

// ChangeEvent is broadcast to realtime subscribers after a row write
type ChangeEvent struct {
	Table     string          `json:"table"`
	Type      ChangeType      `json:"type"`
	Record    json.RawMessage `json:"record"`
	DeviceIDs []string        `json:"device_ids"`
	CommitAt  time.Time       `json:"commit_timestamp"`
}

// Concerns reports whether a subscriber filtered on deviceID should see e
func (e ChangeEvent) Concerns(deviceID string) bool {
	if deviceID == "" {
		return true
	}
	return slices.Contains(e.DeviceIDs, deviceID)
}

// TransferChange builds the event for a transfer row write
func TransferChange(kind ChangeType, t *Transfer) (ChangeEvent, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return ChangeEvent{}, err
	}
	ids := []string{t.SenderDeviceID}
	if t.ReceiverDeviceID != nil {
		ids = append(ids, *t.ReceiverDeviceID)
	}
	return ChangeEvent{Table: TableTransfers, Type: kind, Record: raw, DeviceIDs: ids, CommitAt: t.UpdatedAt}, nil
}

// NotificationChange builds the event for a notification row write
func NotificationChange(kind ChangeType, n *Notification) (ChangeEvent, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{Table: TableNotifications, Type: kind, Record: raw, DeviceIDs: []string{n.DeviceID}, CommitAt: n.CreatedAt}, nil
}
