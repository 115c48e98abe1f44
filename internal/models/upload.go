package models

import "time"

// FileUpload represents the stored bytes of a transfer
type FileUpload struct {
	ID             string    `json:"id"`
	TransferID     string    `json:"transfer_id"`
	FileSize       int64     `json:"file_size"`
	ChunkSize      int64     `json:"chunk_size"`
	TotalChunks    int       `json:"total_chunks"`
	UploadedChunks int       `json:"uploaded_chunks"`
	DownloadURL    string    `json:"download_url"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Chunk represents a chunk of an uploaded file
type Chunk struct {
	ID           string `json:"id"`
	FileUploadID string `json:"file_upload_id"`
	ChunkNumber  int    `json:"chunk_number"`
	Checksum     string `json:"checksum"`
	ObjectKey    string `json:"object_key"`
	Size         int64  `json:"size"`
}

// ChunkData holds chunk information during upload/download
type ChunkData struct {
	Data       []byte
	OrderIndex int
	Hash       string
	Size       int64
}
