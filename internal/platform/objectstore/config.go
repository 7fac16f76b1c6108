package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketImages  string
	PublicBaseURL string
	// PublicRead grants anonymous GET on uploaded images. Leave it off when
	// a CDN with its own credentials fronts the bucket.
	PublicRead bool
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("METADEPLOY_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	publicRead, err := env.Bool("METADEPLOY_MINIO_PUBLIC_READ", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("METADEPLOY_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("METADEPLOY_MINIO_ACCESS_KEY", "metadeploy"),
		SecretKey:     env.String("METADEPLOY_MINIO_SECRET_KEY", "metadeployminio"),
		Region:        env.String("METADEPLOY_MINIO_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketImages:  env.String("METADEPLOY_MINIO_BUCKET_IMAGES", "product-images"),
		PublicBaseURL: strings.TrimRight(env.String("METADEPLOY_MEDIA_BASE_URL", ""), "/"),
		PublicRead:    publicRead,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketImages) == "" {
		return errors.New("images bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// ObjectURL is the public address of a stored object.
func (c Config) ObjectURL(key string) string {
	base := c.PublicBaseURL
	if base == "" {
		scheme := "http"
		if c.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + c.Endpoint
	}
	return base + "/" + c.BucketImages + "/" + strings.TrimLeft(key, "/")
}
