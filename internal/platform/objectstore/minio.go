package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewMinIOClient connects to the bucket host holding product images.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: imageTransport(),
	})
}

// EnsureBucket creates the images bucket on first boot and, when the images
// are served straight from the bucket, grants anonymous reads on products/.
func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketImages)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", cfg.BucketImages, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketImages, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", cfg.BucketImages, err)
		}
	}
	if !cfg.PublicRead {
		return nil
	}
	policy, err := publicReadPolicy(cfg.BucketImages, imagePrefix)
	if err != nil {
		return err
	}
	if err := client.SetBucketPolicy(ctx, cfg.BucketImages, policy); err != nil {
		return fmt.Errorf("set bucket policy %s: %w", cfg.BucketImages, err)
	}
	return nil
}

// CheckBucket is the adminapi readiness check.
func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketImages)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", cfg.BucketImages, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", cfg.BucketImages)
	}
	return nil
}

type policyStatement struct {
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Action    []string            `json:"Action"`
	Resource  []string            `json:"Resource"`
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

func publicReadPolicy(bucket, prefix string) (string, error) {
	raw, err := json.Marshal(bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": {"*"}},
			Action:    []string{"s3:GetObject"},
			Resource:  []string{"arn:aws:s3:::" + bucket + "/" + prefix + "*"},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal bucket policy: %w", err)
	}
	return string(raw), nil
}

func imageTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
