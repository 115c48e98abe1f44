package api

import (
	"context"
	"net/url"

	"github.com/maneesh/qrshare/internal/models"
)

func (c *Client) CreateTransfer(ctx context.Context, in models.TransferInsert) (*models.Transfer, error) {
	var out models.Transfer
	if err := c.Post(ctx, "/rest/v1/transfers", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTransfer(ctx context.Context, id string) (*models.Transfer, error) {
	var out models.Transfer
	if err := c.Get(ctx, "/rest/v1/transfers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTransfer(ctx context.Context, id string, u models.TransferUpdate) (*models.Transfer, error) {
	var out models.Transfer
	if err := c.Patch(ctx, "/rest/v1/transfers/"+url.PathEscape(id), u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTransfers(ctx context.Context, deviceID string) ([]models.Transfer, error) {
	var out []models.Transfer
	if err := c.Get(ctx, "/rest/v1/transfers", url.Values{"device_id": {deviceID}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LatestPendingTransfer(ctx context.Context, senderDeviceID string) (*models.Transfer, error) {
	var out models.Transfer
	if err := c.Get(ctx, "/rest/v1/transfers/pending", url.Values{"sender_device_id": {senderDeviceID}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSession(ctx context.Context, in models.SessionInsert) (*models.TransferSession, error) {
	var out models.TransferSession
	if err := c.Post(ctx, "/rest/v1/sessions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ClaimSession(ctx context.Context, code string) (*models.TransferSession, error) {
	var out models.TransferSession
	if err := c.Post(ctx, "/rest/v1/sessions/"+url.PathEscape(code)+"/claim", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateNotification(ctx context.Context, in models.NotificationInsert) (*models.Notification, error) {
	var out models.Notification
	if err := c.Post(ctx, "/rest/v1/notifications", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListNotifications(ctx context.Context, deviceID string) ([]models.Notification, error) {
	var out []models.Notification
	if err := c.Get(ctx, "/rest/v1/notifications", url.Values{"device_id": {deviceID}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error) {
	var out models.Notification
	if err := c.Post(ctx, "/rest/v1/notifications/"+url.PathEscape(id)+"/read", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context, deviceID string) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	params := url.Values{"device_id": {deviceID}}
	if err := c.Post(ctx, "/rest/v1/notifications/read-all?"+params.Encode(), nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (c *Client) UpsertProfile(ctx context.Context, in models.ProfileUpsert) (*models.Profile, error) {
	var out models.Profile
	if err := c.Post(ctx, "/rest/v1/profiles", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
