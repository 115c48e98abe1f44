package notify

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maneesh/qrshare/internal/api"
	"github.com/maneesh/qrshare/internal/chunker"
	"github.com/maneesh/qrshare/internal/handlers"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmitter(t *testing.T) (*Emitter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handlers.NewRouter(handlers.Deps{
		Store:   storage.NewMemoryStore(),
		Blobs:   storage.NewMemoryBlobs(),
		Feed:    storage.NewMemoryFeed(),
		Chunker: chunker.NewChunker(chunker.MinChunkSize),
		Logger:  logging.Nop(),
	}))
	t.Cleanup(srv.Close)
	return NewEmitter(api.NewClient(srv.URL), logging.Nop()), srv
}

func TestEmitter_Lifecycle(t *testing.T) {
	e, _ := newTestEmitter(t)
	ctx := context.Background()

	transferID := "t-1"
	first := e.Create(ctx, "dev-a", "Transfer sent", "done", &transferID)
	require.NotNil(t, first)
	assert.False(t, first.IsRead)
	require.NotNil(t, first.TransferID)
	assert.Equal(t, "t-1", *first.TransferID)

	require.NotNil(t, e.Create(ctx, "dev-a", "Hello", "second", nil))
	require.NotNil(t, e.Create(ctx, "dev-b", "Other", "device", nil))

	list, err := e.List(ctx, "dev-a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, UnreadCount(list))

	read, err := e.MarkRead(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	count, err := e.MarkAllRead(ctx, "dev-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	list, err = e.List(ctx, "dev-a")
	require.NoError(t, err)
	assert.Zero(t, UnreadCount(list))

	other, err := e.List(ctx, "dev-b")
	require.NoError(t, err)
	assert.Equal(t, 1, UnreadCount(other))
}

func TestEmitter_CreateDropsFailures(t *testing.T) {
	e, srv := newTestEmitter(t)
	ctx := context.Background()

	assert.Nil(t, e.Create(ctx, "", "no device", "rejected", nil))

	srv.Close()
	assert.Nil(t, e.Create(ctx, "dev-a", "offline", "dropped", nil))

	_, err := e.MarkRead(ctx, "n-1")
	assert.Error(t, err)
}

func TestEmitter_MarkReadMissing(t *testing.T) {
	e, _ := newTestEmitter(t)

	_, err := e.MarkRead(context.Background(), "missing")
	assert.True(t, api.IsNotFound(err))
}

func TestEmitter_Subscribe(t *testing.T) {
	e, _ := newTestEmitter(t)
	ctx := context.Background()

	var unread atomic.Int64
	stop, err := e.Subscribe(ctx, "dev-a", func(list []models.Notification) {
		unread.Store(int64(UnreadCount(list)))
	})
	require.NoError(t, err)
	defer stop()

	e.Create(ctx, "dev-a", "one", "", nil)
	e.Create(ctx, "dev-a", "two", "", nil)

	assert.Eventually(t, func() bool { return unread.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestForOutcome(t *testing.T) {
	tr := &models.Transfer{FileName: "report.pdf", FileSize: 204800, Status: models.StatusCompleted}

	title, msg := ForOutcome(tr, Sender)
	assert.Equal(t, "Transfer sent", title)
	assert.Contains(t, msg, "report.pdf")
	assert.Contains(t, msg, "200 KiB")

	title, _ = ForOutcome(tr, Receiver)
	assert.Equal(t, "Transfer received", title)

	tr.Status = models.StatusFailed
	title, _ = ForOutcome(tr, Receiver)
	assert.Equal(t, "Transfer failed", title)

	tr.Status = models.StatusCancelled
	title, _ = ForOutcome(tr, Sender)
	assert.Equal(t, "Transfer cancelled", title)
}
