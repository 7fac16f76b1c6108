package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ImageStore stores product images and icons.
type ImageStore interface {
	PutImage(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	DeleteImage(ctx context.Context, key string) error
}

type MinioImageStore struct {
	client *minio.Client
	cfg    Config
}

func NewMinioImageStore(client *minio.Client, cfg Config) (*MinioImageStore, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MinioImageStore{client: client, cfg: cfg}, nil
}

// PutImage uploads the object and returns its public URL.
func (s *MinioImageStore) PutImage(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("image store not initialized")
	}
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("object key is required")
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.cfg.BucketImages, key, body, size, opts); err != nil {
		return "", fmt.Errorf("put image: %w", err)
	}
	return s.cfg.ObjectURL(key), nil
}

func (s *MinioImageStore) DeleteImage(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return errors.New("image store not initialized")
	}
	return s.client.RemoveObject(ctx, s.cfg.BucketImages, key, minio.RemoveObjectOptions{})
}

const imagePrefix = "products/"

// ImageKey builds the object key for a product image upload.
func ImageKey(productID string, filename string) string {
	base := path.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return path.Join(imagePrefix, strings.TrimSpace(productID), base)
}
