package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/maneesh/qrshare/internal/logging"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinioClient stores transfer chunks as objects
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

// ChunkObjectKey is the object key of chunk index of one upload of a transfer.
// Every upload gets its own prefix so a re-upload never touches live objects.
func ChunkObjectKey(transferID, uploadID string, index int) string {
	return fmt.Sprintf("chunks/%s/%s/%d", transferID, uploadID, index)
}

// NewMinioClient connects to MinIO and makes sure the bucket exists
func NewMinioClient(ctx context.Context, logger logging.Logger, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioClient, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		logger.Info(ctx, "creating bucket", "bucket", bucketName)
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioClient{client: client, bucketName: bucketName}, nil
}

// UploadChunk uploads a chunk to MinIO with tracing
func (mc *MinioClient) UploadChunk(ctx context.Context, objectKey string, data []byte) error {
	ctx, span := tracer.Start(ctx, "minio.upload_chunk",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	_, err := mc.client.PutObject(ctx, mc.bucketName, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload chunk: %w", err)
	}
	return nil
}

// DownloadChunk downloads a chunk from MinIO with tracing
func (mc *MinioClient) DownloadChunk(ctx context.Context, objectKey string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "minio.download_chunk",
		trace.WithAttributes(attribute.String("object_key", objectKey)),
	)
	defer span.End()

	object, err := mc.client.GetObject(ctx, mc.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("chunk %s: %w", objectKey, ErrNotFound)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}

	span.SetAttributes(attribute.Int("size_bytes", len(data)))
	return data, nil
}

// DeleteChunk deletes a chunk from MinIO
func (mc *MinioClient) DeleteChunk(ctx context.Context, objectKey string) error {
	ctx, span := tracer.Start(ctx, "minio.delete_chunk",
		trace.WithAttributes(attribute.String("object_key", objectKey)),
	)
	defer span.End()

	if err := mc.client.RemoveObject(ctx, mc.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}
