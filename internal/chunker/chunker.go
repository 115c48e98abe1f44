package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/maneesh/qrshare/internal/models"
)

// MinChunkSize is the smallest chunk size a client may request
const MinChunkSize int64 = 64 * 1024

// ErrChecksumMismatch is returned when a chunk does not match its recorded hash
var ErrChecksumMismatch = errors.New("chunk checksum mismatch")

// Chunker splits upload bodies into fixed-size checksummed chunks
type Chunker struct {
	chunkSize int64
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int64) *Chunker {
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	return &Chunker{
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the configured upper bound
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// Resolve clamps a client-requested chunk size to [MinChunkSize, ChunkSize()].
// Zero or negative requests get the maximum.
func (c *Chunker) Resolve(requested int64) int64 {
	switch {
	case requested <= 0 || requested > c.chunkSize:
		return c.chunkSize
	case requested < MinChunkSize:
		return MinChunkSize
	}
	return requested
}

// ChunkStream reads from a reader and yields chunks of size chunkSize.
// An empty stream yields no chunks and a zero total.
func (c *Chunker) ChunkStream(reader io.Reader, chunkSize int64) ([]*models.ChunkData, int64, error) {
	size := c.Resolve(chunkSize)

	var chunks []*models.ChunkData
	var totalSize int64
	for orderIndex := 0; ; orderIndex++ {
		buffer := make([]byte, size)
		n, err := io.ReadFull(reader, buffer)
		if n > 0 {
			data := buffer[:n]
			chunks = append(chunks, &models.ChunkData{
				Data:       data,
				OrderIndex: orderIndex,
				Hash:       ComputeHash(data),
				Size:       int64(n),
			})
			totalSize += int64(n)
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		} else if err != nil {
			return nil, 0, fmt.Errorf("error reading chunk %d: %w", orderIndex, err)
		}
	}

	return chunks, totalSize, nil
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ReassembleChunks combines chunks in order
func ReassembleChunks(chunks [][]byte) []byte {
	totalSize := 0
	for _, chunk := range chunks {
		totalSize += len(chunk)
	}

	result := make([]byte, 0, totalSize)
	for _, chunk := range chunks {
		result = append(result, chunk...)
	}
	return result
}

// Verify checks data against the expected hash
func Verify(data []byte, expectedHash string, index int) error {
	if ComputeHash(data) != expectedHash {
		return fmt.Errorf("%w: chunk %d", ErrChecksumMismatch, index)
	}
	return nil
}
