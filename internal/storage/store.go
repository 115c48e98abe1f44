package storage

import (
	"context"
	"errors"
	"time"

	"github.com/maneesh/qrshare/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("qrshare-storage")

// ErrNotFound is returned when no row matches a lookup or update
var ErrNotFound = errors.New("not found")

// MetadataStore persists the table-like state of the backend
type MetadataStore interface {
	CreateTransfer(ctx context.Context, t *models.Transfer) error
	GetTransfer(ctx context.Context, id string) (*models.Transfer, error)
	// UpdateTransfer applies u atomically under the lifecycle invariants.
	UpdateTransfer(ctx context.Context, id string, u models.TransferUpdate, now time.Time) (*models.Transfer, error)
	ListTransfers(ctx context.Context, deviceID string) ([]models.Transfer, error)
	LatestPendingTransfer(ctx context.Context, senderDeviceID string) (*models.Transfer, error)

	CreateSession(ctx context.Context, s *models.TransferSession) error
	// ClaimSession deactivates the active, unexpired session with code.
	ClaimSession(ctx context.Context, code string, now time.Time) (*models.TransferSession, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, deviceID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, deviceID string) (int64, error)

	UpsertProfile(ctx context.Context, p *models.Profile) (*models.Profile, error)

	// SaveUpload replaces any previous upload of the same transfer.
	SaveUpload(ctx context.Context, u *models.FileUpload, chunks []*models.Chunk) error
	GetUpload(ctx context.Context, transferID string) (*models.FileUpload, error)
	GetChunks(ctx context.Context, uploadID string) ([]*models.Chunk, error)
}

// BlobStore holds chunk bytes
type BlobStore interface {
	UploadChunk(ctx context.Context, objectKey string, data []byte) error
	DownloadChunk(ctx context.Context, objectKey string) ([]byte, error)
	DeleteChunk(ctx context.Context, objectKey string) error
}

// UploadCache caches upload metadata by transfer id. A miss is (nil, nil).
type UploadCache interface {
	GetUpload(ctx context.Context, transferID string) (*models.FileUpload, error)
	SetUpload(ctx context.Context, u *models.FileUpload) error
	InvalidateUpload(ctx context.Context, transferID string) error
}

// ChangeFeed fans row changes out to realtime subscribers
type ChangeFeed interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
	Subscribe(ctx context.Context, table string) (Subscription, error)
}

// Subscription delivers change events until closed
type Subscription interface {
	Events() <-chan models.ChangeEvent
	Close() error
}

// NoCache is an UploadCache that never hits
type NoCache struct{}

func (NoCache) GetUpload(context.Context, string) (*models.FileUpload, error) { return nil, nil }
func (NoCache) SetUpload(context.Context, *models.FileUpload) error           { return nil }
func (NoCache) InvalidateUpload(context.Context, string) error                { return nil }
