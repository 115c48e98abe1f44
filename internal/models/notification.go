package models

import "time"

// Notification is a lightweight message owned by one device
type Notification struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	TransferID *string   `json:"transfer_id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// NotificationInsert is the body accepted when creating a notification
type NotificationInsert struct {
	DeviceID   string  `json:"device_id"`
	TransferID *string `json:"transfer_id,omitempty"`
	Title      string  `json:"title"`
	Message    string  `json:"message"`
}
