package payload

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	sessionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keyAlphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"

	// SessionCodeLength is the length of a receive-mode session code
	SessionCodeLength = 6
	// EncryptionKeyLength is the length of a generated encryption key
	EncryptionKeyLength = 26
)

func randomString(alphabet string, n int) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// NewSessionCode returns a 6 character uppercase alphanumeric code. No
// collision check is made against active sessions.
func NewSessionCode() (string, error) {
	return randomString(sessionAlphabet, SessionCodeLength)
}

// NewEncryptionKey returns an opaque alphanumeric key. It is carried in
// payloads and stored on the transfer but bytes are not encrypted with it.
func NewEncryptionKey() (string, error) {
	return randomString(keyAlphabet, EncryptionKeyLength)
}
