// Package payload encodes and decodes the JSON carried in share QR codes.
//
// Three shapes exist, told apart by the "type" field: a session handshake,
// a file offer and an application offer. Decode never panics and never
// touches transfer state; every failure is a *MalformedPayloadError.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/maneesh/qrshare/internal/models"
)

// MaxEncodedSize is the byte capacity of a version 40 QR code at the
// lowest error correction level
const MaxEncodedSize = 2953

// ErrPayloadTooLarge is returned by Encode when the JSON would not fit in a QR code
var ErrPayloadTooLarge = errors.New("payload exceeds QR code capacity")

var sessionCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// Kind is the discriminant of a payload
type Kind string

const (
	KindSession     Kind = "session"
	KindFile        Kind = "file"
	KindApplication Kind = "application"
)

// Payload is one of *Session, *File or *Application
type Payload interface {
	Kind() Kind
	// SenderDeviceID is the device that produced the QR code
	SenderDeviceID() string
	validate() error
}

// MalformedPayloadError reports a scanned string that is not a usable payload
type MalformedPayloadError struct {
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payload: %s: %v", e.Reason, e.Err)
	}
	return "malformed payload: " + e.Reason
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

func malformed(reason string, err error) error {
	return &MalformedPayloadError{Reason: reason, Err: err}
}

// Session pairs a scanning device with a receive-mode session
type Session struct {
	SessionCode string `json:"sessionCode"`
	DeviceID    string `json:"deviceId"`
	Timestamp   int64  `json:"timestamp"`
}

func (*Session) Kind() Kind               { return KindSession }
func (s *Session) SenderDeviceID() string { return s.DeviceID }

func (s *Session) validate() error {
	if !sessionCodePattern.MatchString(s.SessionCode) {
		return malformed("sessionCode must be 6 uppercase alphanumeric characters", nil)
	}
	if strings.TrimSpace(s.DeviceID) == "" {
		return malformed("missing deviceId", nil)
	}
	return nil
}

func (s Session) MarshalJSON() ([]byte, error) {
	type alias Session
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindSession, alias(s)})
}

// FileInfo describes an offered file. URI is only resolvable on the sender.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	URI  string `json:"uri"`
}

// File offers a single file
type File struct {
	File          FileInfo              `json:"file"`
	DeviceID      string                `json:"deviceId"`
	EncryptionKey string                `json:"encryptionKey"`
	Method        models.TransferMethod `json:"method"`
	Timestamp     int64                 `json:"timestamp"`
}

func (*File) Kind() Kind               { return KindFile }
func (f *File) SenderDeviceID() string { return f.DeviceID }

func (f *File) validate() error {
	if strings.TrimSpace(f.File.Name) == "" {
		return malformed("missing file.name", nil)
	}
	if f.File.Size < 0 {
		return malformed("file.size must not be negative", nil)
	}
	if strings.TrimSpace(f.DeviceID) == "" {
		return malformed("missing deviceId", nil)
	}
	if f.Method != "" && !f.Method.Valid() {
		return malformed(fmt.Sprintf("unknown method %q", f.Method), nil)
	}
	return nil
}

func (f File) MarshalJSON() ([]byte, error) {
	type alias File
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindFile, alias(f)})
}

// AppInfo describes an offered application
type AppInfo struct {
	Name        string `json:"name"`
	PackageName string `json:"packageName"`
	Version     string `json:"version"`
	Icon        string `json:"icon"`
	Size        int64  `json:"size"`
}

// Application offers an installed application
type Application struct {
	App           AppInfo               `json:"app"`
	DeviceID      string                `json:"deviceId"`
	EncryptionKey string                `json:"encryptionKey"`
	Method        models.TransferMethod `json:"method"`
	Timestamp     int64                 `json:"timestamp"`
}

func (*Application) Kind() Kind               { return KindApplication }
func (a *Application) SenderDeviceID() string { return a.DeviceID }

func (a *Application) validate() error {
	if strings.TrimSpace(a.App.Name) == "" {
		return malformed("missing app.name", nil)
	}
	if a.App.Size < 0 {
		return malformed("app.size must not be negative", nil)
	}
	if strings.TrimSpace(a.DeviceID) == "" {
		return malformed("missing deviceId", nil)
	}
	if a.Method != "" && !a.Method.Valid() {
		return malformed(fmt.Sprintf("unknown method %q", a.Method), nil)
	}
	return nil
}

func (a Application) MarshalJSON() ([]byte, error) {
	type alias Application
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindApplication, alias(a)})
}

// Offer returns the display name and size of a file or application offer
func Offer(p Payload) (name string, size int64, ok bool) {
	switch v := p.(type) {
	case *File:
		return v.File.Name, v.File.Size, true
	case *Application:
		return v.App.Name, v.App.Size, true
	}
	return "", 0, false
}

// Encode serializes p after checking its mandatory fields
func Encode(p Payload) (string, error) {
	if p == nil {
		return "", errors.New("nil payload")
	}
	if err := p.validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	if len(raw) > MaxEncodedSize {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(raw), MaxEncodedSize)
	}
	return string(raw), nil
}

// Decode parses a scanned string
func Decode(raw string) (Payload, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return nil, malformed("invalid JSON", err)
	}
	if head.Type == nil || *head.Type == "" {
		return nil, malformed("missing type", nil)
	}

	var p Payload
	switch Kind(*head.Type) {
	case KindSession:
		p = &Session{}
	case KindFile:
		p = &File{}
	case KindApplication:
		p = &Application{}
	default:
		return nil, malformed(fmt.Sprintf("unknown type %q", *head.Type), nil)
	}

	if err := json.Unmarshal([]byte(raw), p); err != nil {
		return nil, malformed("invalid "+*head.Type+" payload", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewSession builds the handshake payload of a receive-mode session
func NewSession(code, deviceID string, now time.Time) *Session {
	return &Session{SessionCode: code, DeviceID: deviceID, Timestamp: now.UnixMilli()}
}

// NewFile builds the file offer for a created transfer
func NewFile(t *models.Transfer, uri string, now time.Time) *File {
	return &File{
		File: FileInfo{
			Name: t.FileName,
			Size: t.FileSize,
			Type: t.FileType,
			URI:  uri,
		},
		DeviceID:      t.SenderDeviceID,
		EncryptionKey: deref(t.EncryptionKey),
		Method:        t.TransferMethod,
		Timestamp:     now.UnixMilli(),
	}
}

// NewApplication builds the application offer for a created transfer
func NewApplication(t *models.Transfer, app AppInfo, now time.Time) *Application {
	return &Application{
		App:           app,
		DeviceID:      t.SenderDeviceID,
		EncryptionKey: deref(t.EncryptionKey),
		Method:        t.TransferMethod,
		Timestamp:     now.UnixMilli(),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
