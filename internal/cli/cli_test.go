package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maneesh/qrshare/internal/chunker"
	"github.com/maneesh/qrshare/internal/handlers"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/payload"
	"github.com/maneesh/qrshare/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t      *testing.T
	server string
}

func newHarness(t *testing.T) *harness {
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
	t.Setenv("QRSHARE_STATE_DIR", t.TempDir())
	t.Setenv("QRSHARE_DOWNLOAD_DIR", "")
	t.Setenv("QRSHARE_TRACING_ENABLED", "false")
	return &harness{t: t, server: srv.URL}
}

func (h *harness) run(stateDir, stdin string, args ...string) (string, error) {
	h.t.Helper()
	a, root := newRoot()
	defer a.teardown()

	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--server", h.server, "--state-dir", stateDir, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) deviceID(stateDir string) string {
	h.t.Helper()
	out, err := h.run(stateDir, "", "device", "--json")
	require.NoError(h.t, err)
	var info map[string]string
	require.NoError(h.t, json.Unmarshal([]byte(out), &info))
	return info["device_id"]
}

func TestSendAndReceive(t *testing.T) {
	h := newHarness(t)
	senderDir, receiverDir := t.TempDir(), t.TempDir()

	src := filepath.Join(t.TempDir(), "report.pdf")
	content := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("page "), 20000)...)
	require.NoError(t, os.WriteFile(src, content, 0o644))

	out, err := h.run(senderDir, "", "--json", "send", src)
	require.NoError(t, err)
	var sent SendResult
	require.NoError(t, json.Unmarshal([]byte(out), &sent))
	assert.Equal(t, "report.pdf", sent.Transfer.FileName)
	assert.NotEmpty(t, sent.FileURL)

	p, err := payload.Decode(sent.Payload)
	require.NoError(t, err)
	assert.Equal(t, h.deviceID(senderDir), p.SenderDeviceID())

	out, err = h.run(receiverDir, "", "receive", "--yes", sent.Payload)
	require.NoError(t, err)
	saved := filepath.Join(receiverDir, "Downloads", "report.pdf")
	assert.Contains(t, out, "Saved to "+saved)
	got, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	out, err = h.run(senderDir, "", "--json", "list", "--direction", "sent")
	require.NoError(t, err)
	var list []models.Transfer
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusCompleted, list[0].Status)
	assert.Equal(t, 100, list[0].Progress)

	out, err = h.run(receiverDir, "", "list", "--direction", "received")
	require.NoError(t, err)
	assert.Contains(t, out, "report.pdf")
	assert.Contains(t, out, "received")

	out, err = h.run(senderDir, "", "notifications")
	require.NoError(t, err)
	assert.Contains(t, out, "Transfer sent")
	assert.Contains(t, out, "1 unread")

	out, err = h.run(senderDir, "", "notifications", "read-all")
	require.NoError(t, err)
	assert.Contains(t, out, "Marked 1 notifications read")
}

func TestReceive_PromptDeclines(t *testing.T) {
	h := newHarness(t)
	senderDir, receiverDir := t.TempDir(), t.TempDir()

	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	out, err := h.run(senderDir, "", "--json", "send", src)
	require.NoError(t, err)
	var sent SendResult
	require.NoError(t, json.Unmarshal([]byte(out), &sent))

	out, err = h.run(receiverDir, "n\n", "receive", sent.Payload)
	require.NoError(t, err)
	assert.Contains(t, out, `Receive file "a.txt" (5 B)`)
	assert.Contains(t, out, "Transfer declined.")
	assert.NoFileExists(t, filepath.Join(receiverDir, "Downloads", "a.txt"))
}

func TestReceive_PayloadOnStdinNeedsYes(t *testing.T) {
	h := newHarness(t)
	senderDir, receiverDir := t.TempDir(), t.TempDir()

	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	out, err := h.run(senderDir, "", "--json", "send", src)
	require.NoError(t, err)
	var sent SendResult
	require.NoError(t, json.Unmarshal([]byte(out), &sent))

	_, err = h.run(receiverDir, sent.Payload+"\n", "receive")
	assert.ErrorIs(t, err, errStdinPrompt)
	assert.NoFileExists(t, filepath.Join(receiverDir, "Downloads", "a.txt"))

	out, err = h.run(receiverDir, sent.Payload+"\n", "receive", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved to")
	assert.FileExists(t, filepath.Join(receiverDir, "Downloads", "a.txt"))
}

func TestReceive_Malformed(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t.TempDir(), "", "receive", "--yes", `{"type":"karli_share_transfer"}`)
	var mErr *payload.MalformedPayloadError
	assert.ErrorAs(t, err, &mErr)

	_, err = h.run(t.TempDir(), "garbage from stdin\n", "scan", "--yes")
	assert.ErrorAs(t, err, &mErr)
}

func TestSessionJoin(t *testing.T) {
	h := newHarness(t)
	creator, joiner := t.TempDir(), t.TempDir()

	out, err := h.run(creator, "", "--json", "session")
	require.NoError(t, err)
	var opened struct {
		Session models.TransferSession `json:"session"`
		Payload string                 `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &opened))
	assert.Regexp(t, `^[A-Z0-9]{6}$`, opened.Session.SessionCode)

	out, err = h.run(joiner, "", "session", "join", strings.ToLower(opened.Session.SessionCode))
	require.NoError(t, err)
	assert.Contains(t, out, "Joined session "+opened.Session.SessionCode)

	_, err = h.run(joiner, "", "receive", opened.Payload)
	assert.Error(t, err, "a session can only be joined once")
}

func TestSessionPayloadThroughReceive(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t.TempDir(), "", "--json", "session")
	require.NoError(t, err)
	var opened struct {
		Payload string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &opened))

	out, err = h.run(t.TempDir(), "", "receive", opened.Payload)
	require.NoError(t, err)
	assert.Contains(t, out, "Session joined.")
}

func TestCancelAndDevice(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	out, err := h.run(dir, "", "--json", "send", src)
	require.NoError(t, err)
	var sent SendResult
	require.NoError(t, json.Unmarshal([]byte(out), &sent))

	out, err = h.run(dir, "", "cancel", sent.Transfer.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	_, err = h.run(dir, "", "cancel", "missing")
	assert.Error(t, err)

	out, err = h.run(dir, "", "device", "--name", "Laptop")
	require.NoError(t, err)
	assert.Contains(t, out, "Device ID: device_")
	assert.Contains(t, out, filepath.Join(dir, "identity.json"))

	_, err = h.run(dir, "", "list", "--direction", "sideways")
	assert.Error(t, err)

	_, err = h.run(dir, "", "send", src, "--method", "carrier_pigeon")
	assert.Error(t, err)
}
