package transfer

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/maneesh/qrshare/internal/api"
	"github.com/maneesh/qrshare/internal/chunker"
	"github.com/maneesh/qrshare/internal/handlers"
	"github.com/maneesh/qrshare/internal/identity"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/notify"
	"github.com/maneesh/qrshare/internal/payload"
	"github.com/maneesh/qrshare/internal/records"
	"github.com/maneesh/qrshare/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type device struct {
	id       string
	records  *records.Manager
	notifier *notify.Emitter
	executor *Executor
	service  *Service
	dir      string
}

func newServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(handlers.NewRouter(handlers.Deps{
		Store:     storage.NewMemoryStore(),
		Blobs:     storage.NewMemoryBlobs(),
		Feed:      storage.NewMemoryFeed(),
		Chunker:   chunker.NewChunker(chunker.MinChunkSize),
		MaxUpload: 4 << 20,
		Logger:    logging.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func newDevice(t *testing.T, serverURL, id string, opts ...Option) *device {
	t.Helper()
	client := api.NewClient(serverURL)
	ident := identity.Static(id)
	d := &device{id: id, dir: filepath.Join(t.TempDir(), "Downloads")}
	d.records = records.NewManager(client, ident, logging.Nop())
	d.notifier = notify.NewEmitter(client, logging.Nop())
	d.executor = NewExecutor(client, ident, d.dir, chunker.MinChunkSize, logging.Nop())
	d.service = NewService(d.records, d.notifier, d.executor, logging.Nop(), opts...)
	return d
}

func acceptAll() ConfirmFunc {
	return func(context.Context, Offer) (bool, error) { return true, nil }
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func collect(a *Attempt) []Progress {
	var out []Progress
	for p := range a.Events() {
		out = append(out, p)
	}
	return out
}

func percents(events []Progress) []int {
	out := make([]int, len(events))
	for i, p := range events {
		out[i] = p.Percent
	}
	return out
}

func TestShareUploadReceive(t *testing.T) {
	url := newServer(t)
	sender := newDevice(t, url, "dev-a")
	var offered Offer
	receiver := newDevice(t, url, "dev-b", WithConfirmer(ConfirmFunc(func(_ context.Context, o Offer) (bool, error) {
		offered = o
		return true, nil
	})))
	ctx := context.Background()

	content := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("report "), 30000)...)
	src := writeFile(t, "report.pdf", content)

	tr, encoded, err := sender.service.Share(ctx, src, models.MethodQRCode)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", tr.FileName)
	assert.Equal(t, int64(len(content)), tr.FileSize)
	assert.Equal(t, "application/pdf", tr.FileType)
	require.NotNil(t, tr.QRCodeData)
	assert.Equal(t, encoded, *tr.QRCodeData)

	up := sender.service.Upload(ctx, tr, src)
	assert.Equal(t, []int{0, 25, 100}, percents(collect(up)))
	res, err := up.Wait()
	require.NoError(t, err)
	assert.Contains(t, res.FileURL, tr.ID)

	afterUpload, err := sender.records.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, afterUpload.Status)
	assert.Equal(t, 25, afterUpload.Progress)

	ok, err := receiver.service.ProcessPayload(ctx, encoded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Offer{Kind: payload.KindFile, Name: "report.pdf", Size: int64(len(content)), SenderDeviceID: "dev-a"}, offered)

	saved, err := os.ReadFile(filepath.Join(receiver.dir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, content, saved)

	final, err := receiver.records.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.ReceiverDeviceID)
	assert.Equal(t, "dev-b", *final.ReceiverDeviceID)

	forSender, err := sender.notifier.List(ctx, "dev-a")
	require.NoError(t, err)
	require.Len(t, forSender, 1)
	assert.Equal(t, "Transfer sent", forSender[0].Title)

	forReceiver, err := receiver.notifier.List(ctx, "dev-b")
	require.NoError(t, err)
	require.Len(t, forReceiver, 1)
	assert.Equal(t, "Transfer received", forReceiver[0].Title)
}

func TestUpload_MissingSource(t *testing.T) {
	url := newServer(t)
	sender := newDevice(t, url, "dev-a")
	ctx := context.Background()

	tr, err := sender.records.CreateTransfer(ctx, records.NewTransfer{FileName: "gone.txt", FileSize: 10})
	require.NoError(t, err)

	a := sender.service.Upload(ctx, tr, filepath.Join(t.TempDir(), "gone.txt"))
	events := collect(a)
	require.Len(t, events, 2)
	assert.Equal(t, PhaseFailed, events[1].Phase)
	assert.Equal(t, []int{0, 0}, percents(events))

	_, err = a.Wait()
	var ioErr *TransferIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "open source", ioErr.Op)
	assert.ErrorIs(t, err, os.ErrNotExist)

	got, err := sender.records.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 0, got.Progress)

	list, err := sender.notifier.List(ctx, "dev-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Transfer failed", list[0].Title)
}

func TestUpload_RejectedByEndpoint(t *testing.T) {
	url := newServer(t)
	stranger := newDevice(t, url, "dev-x")
	owner := newDevice(t, url, "dev-a")
	ctx := context.Background()

	tr, err := owner.records.CreateTransfer(ctx, records.NewTransfer{FileName: "a.txt"})
	require.NoError(t, err)

	a := stranger.executor.Upload(ctx, tr.ID, writeFile(t, "a.txt", []byte("hello")))
	events := collect(a)
	last := events[len(events)-1]
	assert.Equal(t, PhaseFailed, last.Phase)
	assert.Equal(t, 25, last.Percent)

	_, err = a.Wait()
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
}

func TestDownload_NotFoundWritesNothing(t *testing.T) {
	url := newServer(t)
	receiver := newDevice(t, url, "dev-b")

	a := receiver.executor.Download(context.Background(), "missing", "report.pdf")
	events := collect(a)
	assert.Equal(t, PhaseFailed, events[len(events)-1].Phase)

	res, err := a.Wait()
	assert.Empty(t, res.Path)
	assert.True(t, api.IsNotFound(err))
	assert.NoDirExists(t, receiver.dir)
}

func TestDownload_SaveFailure(t *testing.T) {
	url := newServer(t)
	sender := newDevice(t, url, "dev-a")
	ctx := context.Background()

	src := writeFile(t, "a.txt", []byte("hello"))
	tr, _, err := sender.service.Share(ctx, src, models.MethodQRCode)
	require.NoError(t, err)
	_, err = sender.service.Upload(ctx, tr, src).Wait()
	require.NoError(t, err)

	blocked := filepath.Join(t.TempDir(), "file-not-dir")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))
	exec := NewExecutor(api.NewClient(url), identity.Static("dev-a"), blocked, chunker.MinChunkSize, logging.Nop())

	a := exec.Download(ctx, tr.ID, "a.txt")
	assert.Equal(t, []int{0, 50, 50}, percents(collect(a)))
	_, err = a.Wait()
	var ioErr *TransferIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "save", ioErr.Op)
}

func TestProcessPayload_FailsClosed(t *testing.T) {
	url := newServer(t)
	sender := newDevice(t, url, "dev-a")
	declining := newDevice(t, url, "dev-b", WithConfirmer(ConfirmFunc(func(context.Context, Offer) (bool, error) {
		return false, nil
	})))
	ctx := context.Background()

	ok, err := declining.service.ProcessPayload(ctx, "not a payload")
	assert.False(t, ok)
	var mErr *payload.MalformedPayloadError
	assert.ErrorAs(t, err, &mErr)

	ok, err = declining.service.ProcessPayload(ctx, `{"type":"file","file":{"name":"a.txt","size":1},"deviceId":"nobody"}`)
	assert.False(t, ok)
	assert.ErrorIs(t, err, records.ErrNotFound)

	src := writeFile(t, "a.txt", []byte("hello"))
	tr, encoded, err := sender.service.Share(ctx, src, models.MethodQRCode)
	require.NoError(t, err)

	ok, err = declining.service.ProcessPayload(ctx, encoded)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDeclined)

	unchanged, err := sender.records.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, unchanged.Status)
	assert.Nil(t, unchanged.ReceiverDeviceID)

	noPrompt := newDevice(t, url, "dev-c")
	ok, err = noPrompt.service.ProcessPayload(ctx, encoded)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestProcessPayload_Session(t *testing.T) {
	url := newServer(t)
	creator := newDevice(t, url, "dev-a")
	scanner := newDevice(t, url, "dev-b")
	ctx := context.Background()

	s, err := creator.records.CreateSession(ctx)
	require.NoError(t, err)
	raw, err := payload.Encode(payload.NewSession(s.SessionCode, "dev-a", s.CreatedAt))
	require.NoError(t, err)

	ok, err := scanner.service.ProcessPayload(ctx, raw)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = scanner.service.ProcessPayload(ctx, raw)
	assert.False(t, ok)
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestShareApplication(t *testing.T) {
	url := newServer(t)
	sender := newDevice(t, url, "dev-a")
	receiver := newDevice(t, url, "dev-b", WithConfirmer(acceptAll()))
	ctx := context.Background()

	src := writeFile(t, "maps.apk", []byte("PK\x03\x04 not really a package"))
	tr, encoded, err := sender.service.ShareApplication(ctx, src, payload.AppInfo{Name: "Maps", PackageName: "com.example.maps", Version: "2.1"}, models.MethodQRCode)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationFileType, tr.FileType)
	require.NotNil(t, tr.ApplicationID)
	assert.Equal(t, "com.example.maps", *tr.ApplicationID)

	p, err := payload.Decode(encoded)
	require.NoError(t, err)
	app, ok := p.(*payload.Application)
	require.True(t, ok)
	assert.Equal(t, "Maps", app.App.Name)
	assert.Equal(t, tr.FileSize, app.App.Size)

	_, err = sender.service.Upload(ctx, tr, src).Wait()
	require.NoError(t, err)

	var observed []string
	receiver.service.observe = func(t *models.Transfer, _ *Attempt) { observed = append(observed, t.ID) }
	done, err := receiver.service.ProcessPayload(ctx, encoded)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{tr.ID}, observed)
	assert.FileExists(t, filepath.Join(receiver.dir, "maps.apk"))
}

func TestShare_MissingFile(t *testing.T) {
	url := newServer(t)
	sender := newDevice(t, url, "dev-a")

	_, _, err := sender.service.Share(context.Background(), filepath.Join(t.TempDir(), "nope"), models.MethodQRCode)
	var ioErr *TransferIOError
	assert.ErrorAs(t, err, &ioErr)

	list, err := sender.records.ListTransfers(context.Background(), "dev-a")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSafeFileName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    "passwd",
		"/abs/path/file.txt":  "file.txt",
		`..\windows\evil.exe`: "evil.exe",
		"":                    "download",
		"..":                  "download",
		"dir/":                "dir",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeFileName(in), "input %q", in)
	}
}

func TestDetectFileType(t *testing.T) {
	typ, err := DetectFileType(writeFile(t, "notes.txt", []byte("plain words here")))
	require.NoError(t, err)
	assert.Contains(t, typ, "text/plain")

	_, err = DetectFileType(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAttempt_EventsClosedWithoutReader(t *testing.T) {
	a := start("t-1", func(emit func(Progress)) (Result, error) {
		emit(Progress{Phase: PhaseDownloading, Percent: 50})
		emit(Progress{Phase: PhaseDownloading, Percent: 10})
		return Result{}, errors.New("boom")
	})
	_, err := a.Wait()
	require.EqualError(t, err, "boom")

	events := collect(a)
	assert.Equal(t, []int{50, 50, 50}, percents(events))
	for _, p := range events {
		assert.Equal(t, "t-1", p.TransferID)
	}
}
