package payload

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maneesh/qrshare/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1767225600000)

func ptr[T any](v T) *T { return &v }

func TestFilePayload_Scenario(t *testing.T) {
	tr := &models.Transfer{
		ID:             "t-1",
		SenderDeviceID: "device_abcdefghi_1",
		FileName:       "report.pdf",
		FileSize:       204800,
		FileType:       "application/pdf",
		TransferMethod: models.MethodQRCode,
		EncryptionKey:  ptr("k3y"),
	}

	encoded, err := Encode(NewFile(tr, "file:///tmp/report.pdf", fixedNow))
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	f, ok := decoded.(*File)
	require.True(t, ok, "expected *File, got %T", decoded)
	assert.Equal(t, "report.pdf", f.File.Name)
	assert.Equal(t, int64(204800), f.File.Size)
	assert.Equal(t, "device_abcdefghi_1", f.SenderDeviceID())
	assert.Equal(t, models.MethodQRCode, f.Method)
	assert.Equal(t, "k3y", f.EncryptionKey)
}

func TestRoundTrip_AllKinds(t *testing.T) {
	tr := &models.Transfer{SenderDeviceID: "dev-a", FileName: "Maps", FileSize: 42, FileType: models.ApplicationFileType, TransferMethod: models.MethodQRCode}
	payloads := []Payload{
		NewSession("AB12CD", "dev-a", fixedNow),
		NewFile(&models.Transfer{SenderDeviceID: "dev-a", FileName: "a.txt", FileSize: 0}, "", fixedNow),
		NewApplication(tr, AppInfo{Name: "Maps", PackageName: "com.example.maps", Version: "1.2", Size: 42}, fixedNow),
	}
	for _, p := range payloads {
		t.Run(string(p.Kind()), func(t *testing.T) {
			first, err := Encode(p)
			require.NoError(t, err)

			decoded, err := Decode(first)
			require.NoError(t, err)
			assert.Equal(t, p, decoded)

			second, err := Encode(decoded)
			require.NoError(t, err)
			assert.Equal(t, first, second)

			again, err := Decode(first)
			require.NoError(t, err)
			assert.Equal(t, decoded, again, "decoding is idempotent")
		})
	}
}

func TestEncode_CarriesDiscriminant(t *testing.T) {
	encoded, err := Encode(NewSession("AB12CD", "dev-a", fixedNow))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(encoded), &m))
	assert.Equal(t, "session", m["type"])
	assert.Equal(t, "AB12CD", m["sessionCode"])
	assert.Equal(t, "dev-a", m["deviceId"])
	assert.Contains(t, m, "timestamp")
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":             "",
		"not json":          "hello",
		"array":             `[1,2]`,
		"null":              "null",
		"missing type":      `{"deviceId":"dev-a"}`,
		"empty type":        `{"type":""}`,
		"numeric type":      `{"type":5}`,
		"unknown type":      `{"type":"karli_share_transfer","transferId":"t-1"}`,
		"file without name": `{"type":"file","file":{"size":1},"deviceId":"dev-a"}`,
		"file wrong size":   `{"type":"file","file":{"name":"a","size":"big"},"deviceId":"dev-a"}`,
		"file no sender":    `{"type":"file","file":{"name":"a","size":1}}`,
		"bad method":        `{"type":"file","file":{"name":"a","size":1},"deviceId":"d","method":"fax"}`,
		"short session":     `{"type":"session","sessionCode":"ab1","deviceId":"dev-a"}`,
		"app without name":  `{"type":"application","app":{},"deviceId":"dev-a"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := Decode(raw)
			assert.Nil(t, p)
			var mErr *MalformedPayloadError
			assert.True(t, errors.As(err, &mErr), "got %v", err)
		})
	}
}

func TestEncode_Validates(t *testing.T) {
	_, err := Encode(&File{DeviceID: "dev-a"})
	var mErr *MalformedPayloadError
	assert.ErrorAs(t, err, &mErr)

	_, err = Encode(nil)
	assert.Error(t, err)
}

func TestEncode_SizeBound(t *testing.T) {
	p := &File{File: FileInfo{Name: strings.Repeat("x", MaxEncodedSize), Size: 1}, DeviceID: "dev-a"}
	_, err := Encode(p)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestOffer(t *testing.T) {
	name, size, ok := Offer(&Application{App: AppInfo{Name: "Maps", Size: 9}})
	assert.True(t, ok)
	assert.Equal(t, "Maps", name)
	assert.Equal(t, int64(9), size)

	_, _, ok = Offer(&Session{})
	assert.False(t, ok)
}

func TestCodes(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := NewSessionCode()
		require.NoError(t, err)
		assert.Regexp(t, `^[A-Z0-9]{6}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 40)

	key, err := NewEncryptionKey()
	require.NoError(t, err)
	assert.Regexp(t, `^[a-z0-9]{26}$`, key)
}
