package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/utils"
)

// BucketService stores chat attachments.
type BucketService interface {
	UploadFile(ctx context.Context, key string, contentType string, body io.Reader) error
	DeleteFile(ctx context.Context, key string) error
	GetPublicURL(key string) string
	Close() error
}

type bucketService struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
}

func NewBucketService(ctx context.Context, log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")
	bucketName := utils.GetEnv("GCS_BUCKET_NAME", "", serviceLog)
	if bucketName == "" {
		return nil, fmt.Errorf("missing GCS_BUCKET_NAME environment variable")
	}
	var opts []option.ClientOption
	if credFile := utils.GetEnv("GCS_CREDENTIALS_FILE", "", serviceLog); credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &bucketService{log: serviceLog, client: client, bucketName: bucketName}, nil
}

func (bs *bucketService) UploadFile(ctx context.Context, key string, contentType string, body io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.client.Bucket(bs.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=86400"
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		bs.log.Error("Failed to write object", "key", key, "error", err)
		return err
	}
	if err := w.Close(); err != nil {
		bs.log.Error("Failed to finalize object", "key", key, "error", err)
		return err
	}
	bs.log.Debug("Uploaded object", "key", key, "contentType", contentType)
	return nil
}

func (bs *bucketService) DeleteFile(ctx context.Context, key string) error {
	if err := bs.client.Bucket(bs.bucketName).Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		bs.log.Warn("Failed to delete object", "key", key, "error", err)
		return err
	}
	return nil
}

func (bs *bucketService) GetPublicURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, (&url.URL{Path: key}).EscapedPath())
}

func (bs *bucketService) Close() error {
	return bs.client.Close()
}
