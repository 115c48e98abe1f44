package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/maneesh/qrshare/internal/chunker"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DownloadHandler handles the download-file function
type DownloadHandler struct {
	store  storage.MetadataStore
	blobs  storage.BlobStore
	cache  storage.UploadCache
	logger logging.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(
	store storage.MetadataStore,
	blobs storage.BlobStore,
	cache storage.UploadCache,
	logger logging.Logger,
) *DownloadHandler {
	return &DownloadHandler{
		store:  store,
		blobs:  blobs,
		cache:  cache,
		logger: logger,
	}
}

// ServeHTTP handles GET /functions/v1/download-file?transferId=&deviceId=
func (dh *DownloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "download_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	transferID := r.URL.Query().Get("transferId")
	deviceID := r.URL.Query().Get("deviceId")
	if transferID == "" || deviceID == "" {
		writeError(w, http.StatusBadRequest, "transferId and deviceId are required")
		return
	}
	span.SetAttributes(attribute.String("transfer_id", transferID))

	transfer, err := dh.store.GetTransfer(ctx, transferID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !transfer.Involves(deviceID) {
		writeError(w, http.StatusForbidden, "device is not part of this transfer")
		return
	}

	upload, err := dh.getUpload(ctx, transferID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "file has not been uploaded")
		return
	} else if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get upload metadata: %v", err))
		return
	}

	chunks, err := dh.getChunkMetadata(ctx, upload.ID)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get chunks: %v", err))
		return
	}
	if len(chunks) != upload.TotalChunks {
		writeError(w, http.StatusConflict, fmt.Sprintf("upload incomplete: %d of %d chunks", len(chunks), upload.TotalChunks))
		return
	}

	chunkData, err := dh.fetchChunksParallel(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to fetch chunks: %v", err))
		return
	}

	fileData := dh.reassembleFile(ctx, chunkData)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": filepath.Base(transfer.FileName),
	}))
	w.Header().Set("Content-Length", strconv.Itoa(len(fileData)))
	w.WriteHeader(http.StatusOK)
	w.Write(fileData)

	dh.logger.Info(ctx, "download served", "transfer_id", transferID, "bytes", len(fileData))
}

func (dh *DownloadHandler) getUpload(ctx context.Context, transferID string) (*models.FileUpload, error) {
	cacheCtx, cacheSpan := tracer.Start(ctx, "cache_lookup")
	upload, err := dh.cache.GetUpload(cacheCtx, transferID)
	cacheSpan.End()
	if err != nil {
		dh.logger.Warn(ctx, "upload cache unavailable", "error", err)
	} else if upload != nil {
		return upload, nil
	}

	ctx, dbSpan := tracer.Start(ctx, "db_lookup")
	defer dbSpan.End()

	upload, err = dh.store.GetUpload(ctx, transferID)
	if err != nil {
		return nil, err
	}

	if err := dh.cache.SetUpload(ctx, upload); err != nil {
		dh.logger.Warn(ctx, "failed to update upload cache", "error", err)
	}
	return upload, nil
}

func (dh *DownloadHandler) getChunkMetadata(ctx context.Context, uploadID string) ([]*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "fetch_chunk_metadata")
	defer span.End()

	return dh.store.GetChunks(ctx, uploadID)
}

// fetchChunksParallel downloads and verifies every chunk concurrently,
// returning them in chunk order
func (dh *DownloadHandler) fetchChunksParallel(ctx context.Context, chunkMetadata []*models.Chunk) ([][]byte, error) {
	ctx, fetchSpan := tracer.Start(ctx, "fetch_chunks_parallel",
		trace.WithAttributes(attribute.Int("chunk_count", len(chunkMetadata))),
	)
	defer fetchSpan.End()

	chunkData := make([][]byte, len(chunkMetadata))
	var wg sync.WaitGroup
	errChan := make(chan error, len(chunkMetadata))

	for i, meta := range chunkMetadata {
		wg.Add(1)
		go func(idx int, chunkMeta *models.Chunk) {
			defer wg.Done()

			chunkCtx, chunkSpan := tracer.Start(ctx, fmt.Sprintf("download_chunk_%d", idx),
				trace.WithAttributes(
					attribute.Int("chunk_index", idx),
					attribute.String("object_key", chunkMeta.ObjectKey),
					attribute.Int64("chunk_size", chunkMeta.Size),
				),
			)
			defer chunkSpan.End()

			data, err := dh.blobs.DownloadChunk(chunkCtx, chunkMeta.ObjectKey)
			if err != nil {
				chunkSpan.RecordError(err)
				errChan <- fmt.Errorf("failed to download chunk %d: %w", idx, err)
				return
			}
			if err := chunker.Verify(data, chunkMeta.Checksum, chunkMeta.ChunkNumber); err != nil {
				chunkSpan.RecordError(err)
				errChan <- err
				return
			}

			chunkData[idx] = data
		}(i, meta)
	}

	wg.Wait()
	close(errChan)

	if err, ok := <-errChan; ok {
		fetchSpan.RecordError(err)
		return nil, err
	}
	return chunkData, nil
}

func (dh *DownloadHandler) reassembleFile(ctx context.Context, chunkData [][]byte) []byte {
	_, span := tracer.Start(ctx, "reassemble_chunks",
		trace.WithAttributes(attribute.Int("chunk_count", len(chunkData))),
	)
	defer span.End()

	return chunker.ReassembleChunks(chunkData)
}
