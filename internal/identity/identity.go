// Package identity owns the locally generated device id. A Provider is
// opened once at startup and handed to every component that needs it.
package identity

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// FileName is the identity file inside the state directory
const FileName = "identity.json"

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var idPattern = regexp.MustCompile(`^device_[a-z0-9]{9}_[0-9]+$`)

// ErrCorrupt is returned when the identity file exists but cannot be used
var ErrCorrupt = errors.New("identity file is corrupt")

// Provider hands out the device id of this installation
type Provider struct {
	deviceID string
	path     string
	created  bool
}

type identityFile struct {
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Open loads the device id from stateDir, creating it on first use.
// A corrupt file is reported, never silently replaced.
func Open(stateDir string) (*Provider, error) {
	path := filepath.Join(stateDir, FileName)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f identityFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		if !idPattern.MatchString(f.DeviceID) {
			return nil, fmt.Errorf("%w: %s: malformed device id %q", ErrCorrupt, path, f.DeviceID)
		}
		return &Provider{deviceID: f.DeviceID, path: path}, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}

	id, err := NewDeviceID(time.Now())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	raw, err := json.MarshalIndent(identityFile{DeviceID: id, CreatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return nil, err
	}

	// Written aside and linked into place: the file appears complete or not
	// at all, and Link fails if a racing first run got there first.
	tmp, err := os.CreateTemp(stateDir, ".identity-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write identity: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write identity: %w", err)
	}

	if err := os.Link(tmp.Name(), path); errors.Is(err, os.ErrExist) {
		return Open(stateDir)
	} else if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	return &Provider{deviceID: id, path: path, created: true}, nil
}

// Static returns a Provider for a fixed id that is never persisted
func Static(deviceID string) *Provider {
	return &Provider{deviceID: deviceID}
}

// DeviceID returns the id of this installation
func (p *Provider) DeviceID() string {
	return p.deviceID
}

// Created reports whether Open generated the id on this run
func (p *Provider) Created() bool {
	return p.created
}

// Path is where the id is persisted, empty for a static provider
func (p *Provider) Path() string {
	return p.path
}

// NewDeviceID builds an id of the form device_<9 alnum>_<unix millis>
func NewDeviceID(now time.Time) (string, error) {
	var b strings.Builder
	b.WriteString("device_")
	size := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < 9; i++ {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate device id: %w", err)
		}
		b.WriteByte(idAlphabet[idx.Int64()])
	}
	fmt.Fprintf(&b, "_%d", now.UnixMilli())
	return b.String(), nil
}
