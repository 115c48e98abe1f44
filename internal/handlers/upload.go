package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/qrshare/internal/chunker"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UploadRetention is how long stored bytes stay downloadable
const UploadRetention = 24 * time.Hour

const multipartMemory = 32 << 20

// UploadHandler handles the upload-file function
type UploadHandler struct {
	store     storage.MetadataStore
	blobs     storage.BlobStore
	cache     storage.UploadCache
	feed      storage.ChangeFeed
	chunker   *chunker.Chunker
	maxUpload int64
	logger    logging.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(
	store storage.MetadataStore,
	blobs storage.BlobStore,
	cache storage.UploadCache,
	feed storage.ChangeFeed,
	chunker *chunker.Chunker,
	maxUpload int64,
	logger logging.Logger,
) *UploadHandler {
	return &UploadHandler{
		store:     store,
		blobs:     blobs,
		cache:     cache,
		feed:      feed,
		chunker:   chunker,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// UploadResponse represents the response for a stored upload
type UploadResponse struct {
	TransferID  string `json:"transfer_id"`
	FileURL     string `json:"file_url"`
	FileSize    int64  `json:"file_size"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Message     string `json:"message"`
}

// DownloadURL is the function URL serving a transfer's bytes
func DownloadURL(transferID string) string {
	return "/functions/v1/download-file?transferId=" + url.QueryEscape(transferID)
}

// ServeHTTP handles POST /functions/v1/upload-file (multipart: file, transferId, deviceId, chunkSize)
func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, uh.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", uh.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	transferID := r.FormValue("transferId")
	deviceID := r.FormValue("deviceId")
	if transferID == "" || deviceID == "" {
		writeError(w, http.StatusBadRequest, "transferId and deviceId are required")
		return
	}
	var requested int64
	if raw := r.FormValue("chunkSize"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "chunkSize must be an integer")
			return
		}
		requested = n
	}
	chunkSize := uh.chunker.Resolve(requested)

	span.SetAttributes(
		attribute.String("transfer_id", transferID),
		attribute.Int64("chunk_size", chunkSize),
	)

	transfer, err := uh.store.GetTransfer(ctx, transferID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if transfer.SenderDeviceID != deviceID {
		writeError(w, http.StatusForbidden, "only the sender may upload")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' part")
		return
	}
	defer file.Close()

	chunks, totalSize, err := uh.chunkStream(ctx, file, chunkSize)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to chunk file: %v", err))
		return
	}
	span.SetAttributes(
		attribute.Int64("file_size", totalSize),
		attribute.Int("chunk_count", len(chunks)),
	)

	uploadID := uuid.New().String()
	chunkModels, err := uh.uploadChunks(ctx, transferID, uploadID, chunks)
	if err != nil {
		span.RecordError(err)
		uh.deleteChunks(ctx, chunkModels)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to upload chunks: %v", err))
		return
	}

	stale := uh.previousChunks(ctx, transferID)

	now := time.Now().UTC()
	fileURL := DownloadURL(transferID)
	upload := &models.FileUpload{
		ID:             uploadID,
		TransferID:     transferID,
		FileSize:       totalSize,
		ChunkSize:      chunkSize,
		TotalChunks:    len(chunkModels),
		UploadedChunks: len(chunkModels),
		DownloadURL:    fileURL,
		ExpiresAt:      now.Add(UploadRetention),
		CreatedAt:      now,
	}
	if err := uh.store.SaveUpload(ctx, upload, chunkModels); err != nil {
		span.RecordError(err)
		uh.deleteChunks(ctx, chunkModels)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save metadata: %v", err))
		return
	}

	if err := uh.cache.InvalidateUpload(ctx, transferID); err != nil {
		uh.logger.Warn(ctx, "failed to invalidate upload cache", "transfer_id", transferID, "error", err)
	}
	uh.deleteChunks(ctx, stale)

	updated, err := uh.store.UpdateTransfer(ctx, transferID, models.TransferUpdate{FileURL: &fileURL}, now)
	if err != nil {
		uh.logger.Warn(ctx, "failed to record file_url", "transfer_id", transferID, "error", err)
	} else if ev, err := models.TransferChange(models.ChangeUpdate, updated); err == nil {
		if err := uh.feed.Publish(ctx, ev); err != nil {
			uh.logger.Warn(ctx, "failed to publish change", "table", ev.Table, "error", err)
		}
	}

	uh.logger.Info(ctx, "upload stored",
		"transfer_id", transferID,
		"file_size", totalSize,
		"chunks", len(chunkModels),
	)

	writeJSON(w, http.StatusCreated, UploadResponse{
		TransferID:  transferID,
		FileURL:     fileURL,
		FileSize:    totalSize,
		ChunkSize:   chunkSize,
		TotalChunks: len(chunkModels),
		Message:     "File uploaded successfully",
	})
}

func (uh *UploadHandler) chunkStream(ctx context.Context, body io.Reader, chunkSize int64) ([]*models.ChunkData, int64, error) {
	_, span := tracer.Start(ctx, "chunk_stream")
	defer span.End()

	return uh.chunker.ChunkStream(body, chunkSize)
}

// uploadChunks stores every chunk under uploadID. On failure the chunks already
// stored are returned along with the error.
func (uh *UploadHandler) uploadChunks(ctx context.Context, transferID, uploadID string, chunks []*models.ChunkData) ([]*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "upload_chunks",
		trace.WithAttributes(attribute.Int("chunk_count", len(chunks))),
	)
	defer span.End()

	chunkModels := make([]*models.Chunk, 0, len(chunks))
	for _, chunkData := range chunks {
		objectKey := storage.ChunkObjectKey(transferID, uploadID, chunkData.OrderIndex)
		if err := uh.blobs.UploadChunk(ctx, objectKey, chunkData.Data); err != nil {
			span.RecordError(err)
			return chunkModels, fmt.Errorf("failed to upload chunk %d: %w", chunkData.OrderIndex, err)
		}

		chunkModels = append(chunkModels, &models.Chunk{
			ID:           uuid.New().String(),
			FileUploadID: uploadID,
			ChunkNumber:  chunkData.OrderIndex,
			Checksum:     chunkData.Hash,
			ObjectKey:    objectKey,
			Size:         chunkData.Size,
		})
	}
	return chunkModels, nil
}

// previousChunks lists the chunks of an earlier upload of the same transfer
func (uh *UploadHandler) previousChunks(ctx context.Context, transferID string) []*models.Chunk {
	prev, err := uh.store.GetUpload(ctx, transferID)
	if err != nil {
		return nil
	}
	chunks, err := uh.store.GetChunks(ctx, prev.ID)
	if err != nil {
		uh.logger.Warn(ctx, "failed to list previous chunks", "transfer_id", transferID, "error", err)
		return nil
	}
	return chunks
}

// deleteChunks removes the objects behind chunks. Failures only orphan objects.
func (uh *UploadHandler) deleteChunks(ctx context.Context, chunks []*models.Chunk) {
	for _, c := range chunks {
		if err := uh.blobs.DeleteChunk(ctx, c.ObjectKey); err != nil {
			uh.logger.Warn(ctx, "failed to delete chunk", "object_key", c.ObjectKey, "error", err)
		}
	}
}
