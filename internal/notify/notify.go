// Package notify creates and reads per-device notification rows.
package notify

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/maneesh/qrshare/internal/api"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
)

// Emitter writes notifications. Create never fails the caller: a rejected
// insert is logged and dropped.
type Emitter struct {
	client *api.Client
	logger logging.Logger
}

func NewEmitter(client *api.Client, logger logging.Logger) *Emitter {
	return &Emitter{client: client, logger: logger.With("component", "notify")}
}

// Create inserts an unread notification. It returns nil when the insert
// did not go through.
func (e *Emitter) Create(ctx context.Context, deviceID, title, message string, transferID *string) *models.Notification {
	n, err := e.client.CreateNotification(ctx, models.NotificationInsert{
		DeviceID:   deviceID,
		TransferID: transferID,
		Title:      title,
		Message:    message,
	})
	if err != nil {
		e.logger.Warn(ctx, "notification dropped", "device_id", deviceID, "title", title, "error", err)
		return nil
	}
	return n
}

func (e *Emitter) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	n, err := e.client.MarkNotificationRead(ctx, id)
	if err != nil {
		e.logger.Error(ctx, "failed to mark notification read", "notification_id", id, "error", err)
		return nil, fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return n, nil
}

// MarkAllRead flips every unread notification of deviceID and returns how
// many changed
func (e *Emitter) MarkAllRead(ctx context.Context, deviceID string) (int64, error) {
	count, err := e.client.MarkAllNotificationsRead(ctx, deviceID)
	if err != nil {
		e.logger.Error(ctx, "failed to mark notifications read", "device_id", deviceID, "error", err)
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return count, nil
}

// List returns the notifications of deviceID, newest first
func (e *Emitter) List(ctx context.Context, deviceID string) ([]models.Notification, error) {
	list, err := e.client.ListNotifications(ctx, deviceID)
	if err != nil {
		e.logger.Error(ctx, "failed to list notifications", "device_id", deviceID, "error", err)
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}

// Subscribe calls onChange with a fresh list after every notification
// write for deviceID. The returned func stops the subscription.
func (e *Emitter) Subscribe(ctx context.Context, deviceID string, onChange func([]models.Notification)) (func(), error) {
	stop, err := e.client.Follow(ctx, models.TableNotifications, deviceID, func(ctx context.Context) {
		list, err := e.List(ctx, deviceID)
		if err != nil {
			return
		}
		onChange(list)
	})
	if err != nil {
		e.logger.Error(ctx, "failed to subscribe to notifications", "device_id", deviceID, "error", err)
		return nil, fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	return stop, nil
}

// UnreadCount counts unread entries of list
func UnreadCount(list []models.Notification) int {
	n := 0
	for _, item := range list {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// Role is the side of a transfer a notification is written for
type Role int

const (
	Sender Role = iota
	Receiver
)

// ForOutcome builds the title and message announcing the end state of t
func ForOutcome(t *models.Transfer, role Role) (title, message string) {
	size := humanize.IBytes(uint64(max(t.FileSize, 0)))
	switch {
	case t.Status == models.StatusCompleted && role == Sender:
		return "Transfer sent", fmt.Sprintf("%q (%s) was sent successfully", t.FileName, size)
	case t.Status == models.StatusCompleted:
		return "Transfer received", fmt.Sprintf("%q (%s) was received successfully", t.FileName, size)
	case t.Status == models.StatusCancelled:
		return "Transfer cancelled", fmt.Sprintf("%q was cancelled", t.FileName)
	}
	return "Transfer failed", fmt.Sprintf("%q could not be transferred", t.FileName)
}
