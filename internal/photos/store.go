// Package photos resolves individual photo references into URLs the
// biometric engine can fetch.
package photos

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"intake/internal/platform/config"
)

// Store hands out time-limited URLs for stored photo objects.
type Store interface {
	// PresignedURL returns a URL for the object key, valid long enough for
	// the engine to fetch and embed the image.
	PresignedURL(ctx context.Context, key string) (string, error)
}

// Minio serves photos from an S3-compatible object store.
type Minio struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinio connects to the object store configured for photos.
func NewMinio(cfg config.Photos) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect photo store: %w", err)
	}
	return &Minio{client: client, bucket: cfg.Bucket, expiry: time.Hour}, nil
}

func (m *Minio) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign photo %s: %w", key, err)
	}
	return u.String(), nil
}

// Memory is a deterministic in-process Store for tests.
type Memory struct {
	BaseURL string
}

func NewMemory() *Memory {
	return &Memory{BaseURL: "https://photos.test"}
}

func (m *Memory) PresignedURL(_ context.Context, key string) (string, error) {
	return m.BaseURL + "/" + key, nil
}
