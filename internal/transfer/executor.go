package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/maneesh/qrshare/internal/api"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/records"
)

// Upload and download milestones
const (
	UploadPreparing   = 0
	UploadSending     = 25
	DownloadStarted   = 0
	DownloadSaving    = 50
	ProgressCompleted = 100
)

// Executor moves the bytes of one transfer in either direction. It never
// touches transfer rows; see Service for that.
type Executor struct {
	client      *api.Client
	identity    records.Identity
	downloadDir string
	chunkSize   int64
	logger      logging.Logger
}

func NewExecutor(client *api.Client, identity records.Identity, downloadDir string, chunkSize int64, logger logging.Logger) *Executor {
	return &Executor{
		client:      client,
		identity:    identity,
		downloadDir: downloadDir,
		chunkSize:   chunkSize,
		logger:      logger.With("component", "executor"),
	}
}

// DownloadDir is where received files are written
func (e *Executor) DownloadDir() string {
	return e.downloadDir
}

// Upload sends the file at localPath as the content of transferID
func (e *Executor) Upload(ctx context.Context, transferID, localPath string) *Attempt {
	return start(transferID, func(emit func(Progress)) (Result, error) {
		emit(Progress{Phase: PhaseUploading, Percent: UploadPreparing, Message: "Preparing file"})

		f, size, err := openRegular(localPath)
		if err != nil {
			e.logger.Error(ctx, "upload source unavailable", "transfer_id", transferID, "path", localPath, "error", err)
			return Result{}, &TransferIOError{Op: "open source", Err: err}
		}
		defer f.Close()

		emit(Progress{Phase: PhaseUploading, Percent: UploadSending, Message: "Sending file"})

		res, err := e.client.UploadFile(ctx, api.UploadRequest{
			TransferID: transferID,
			DeviceID:   e.identity.DeviceID(),
			ChunkSize:  e.chunkSize,
			FileName:   filepath.Base(localPath),
			Body:       f,
		})
		if err != nil {
			e.logger.Error(ctx, "upload failed", "transfer_id", transferID, "error", err)
			return Result{}, &TransferIOError{Op: "upload", Err: err}
		}

		e.logger.Info(ctx, "upload completed", "transfer_id", transferID, "bytes", size, "chunks", res.TotalChunks)
		return Result{FileURL: res.FileURL, Message: "File sent"}, nil
	})
}

// Download saves the content of transferID as fileName in the download
// directory. The file only appears once every byte is written.
func (e *Executor) Download(ctx context.Context, transferID, fileName string) *Attempt {
	return start(transferID, func(emit func(Progress)) (Result, error) {
		emit(Progress{Phase: PhaseDownloading, Percent: DownloadStarted, Message: "Downloading"})

		body, _, err := e.client.DownloadFile(ctx, transferID, e.identity.DeviceID())
		if err != nil {
			e.logger.Error(ctx, "download failed", "transfer_id", transferID, "error", err)
			return Result{}, &TransferIOError{Op: "download", Err: err}
		}
		defer body.Close()

		emit(Progress{Phase: PhaseDownloading, Percent: DownloadSaving, Message: "Saving file"})

		path, err := writeAtomic(e.downloadDir, SafeFileName(fileName), body)
		if err != nil {
			e.logger.Error(ctx, "failed to save download", "transfer_id", transferID, "error", err)
			return Result{}, &TransferIOError{Op: "save", Err: err}
		}

		e.logger.Info(ctx, "download completed", "transfer_id", transferID, "path", path)
		return Result{Path: path, Message: "File saved to " + path}, nil
	})
}

func openRegular(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is not a regular file", path)
	}
	return f, info.Size(), nil
}

func writeAtomic(dir, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".qrshare-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}
	return path, nil
}

// SafeFileName strips any directory part so a remote name cannot escape
// the download directory
func SafeFileName(name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if base == "/" || base == "." || base == "" {
		return "download"
	}
	return base
}

// DetectFileType sniffs the MIME type of a local file
func DetectFileType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &TransferIOError{Op: "detect type", Err: err}
		}
		return "", fmt.Errorf("failed to detect file type: %w", err)
	}
	return mt.String(), nil
}
