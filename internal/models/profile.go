package models

import "time"

// Profile is the server-side record of a device identity
type Profile struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	DisplayName *string   `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfileUpsert registers a device, keeping an existing row if present
type ProfileUpsert struct {
	DeviceID    string  `json:"device_id"`
	DisplayName *string `json:"display_name,omitempty"`
}
