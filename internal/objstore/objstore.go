// Package objstore issues presigned transfer URLs for chat attachments
// stored in Tencent COS, reached through its S3-compatible endpoint.
// Presigning is local; the gateway performs no network I/O.
package objstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	uploadExpiry   = 300 * time.Second
	downloadExpiry = 60 * time.Second
)

// Store presigns upload and download URLs for one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New builds the presigner from the regional endpoint and static
// credentials.
func New(endpoint, secretID, secretKey, bucket string) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(secretID, secretKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// PresignUpload returns a PUT URL for the object, valid five minutes.
func (s *Store) PresignUpload(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, uploadExpiry)
	if err != nil {
		return "", fmt.Errorf("objstore: presign upload %s: %w", key, err)
	}
	return u.String(), nil
}

// PresignDownload returns a GET URL for the object, valid one minute.
func (s *Store) PresignDownload(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, downloadExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("objstore: presign download %s: %w", key, err)
	}
	return u.String(), nil
}

// ObjectKey renders the canonical object name for a content hash and
// file suffix.
func ObjectKey(hash, suffix string) string {
	return hash + "." + suffix
}
