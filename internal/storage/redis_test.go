package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisClient(context.Background(), logging.Nop(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

func TestRedis_UploadCache(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	got, err := rc.GetUpload(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, got, "miss is not an error")

	u := &models.FileUpload{ID: "u-1", TransferID: "t-1", FileSize: 42, TotalChunks: 1}
	require.NoError(t, rc.SetUpload(ctx, u))
	assert.True(t, mr.Exists("upload:t-1"))
	assert.Equal(t, CacheTTL, mr.TTL("upload:t-1"))

	got, err = rc.GetUpload(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.FileSize)

	require.NoError(t, rc.InvalidateUpload(ctx, "t-1"))
	got, err = rc.GetUpload(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedis_UploadCacheExpires(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.SetUpload(ctx, &models.FileUpload{TransferID: "t-1"}))
	mr.FastForward(CacheTTL + time.Second)

	got, err := rc.GetUpload(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedis_PublishSubscribe(t *testing.T) {
	rc, _ := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := rc.Subscribe(ctx, models.TableTransfers)
	require.NoError(t, err)
	defer sub.Close()

	other, err := rc.Subscribe(ctx, models.TableNotifications)
	require.NoError(t, err)
	defer other.Close()

	tr := &models.Transfer{ID: "t-1", SenderDeviceID: "dev-a", Status: models.StatusPending}
	ev, err := models.TransferChange(models.ChangeInsert, tr)
	require.NoError(t, err)
	require.NoError(t, rc.Publish(ctx, ev))

	select {
	case got := <-sub.Events():
		assert.Equal(t, models.TableTransfers, got.Table)
		assert.Equal(t, models.ChangeInsert, got.Type)
		assert.True(t, got.Concerns("dev-a"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	select {
	case got := <-other.Events():
		t.Fatalf("unexpected event on notifications channel: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}
