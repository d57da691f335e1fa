package packaging

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/shinji-kodama/datapack-builder/internal/logging"
)

// PublishConfig describes the S3-compatible bucket archives are uploaded to.
type PublishConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is prepended to object keys, e.g. "datapacks/1.21.4".
	Prefix string
}

// Publisher uploads archives to object storage.
type Publisher struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	logger   zerolog.Logger
	initOnce sync.Once
	initErr  error
}

// NewPublisher validates cfg and creates a Publisher. No network traffic
// happens until the first Publish.
func NewPublisher(cfg PublishConfig) (*Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("publish endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("publish access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("publish bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &Publisher{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		logger: logging.GetLogger("publish"),
	}, nil
}

// ensureBucket creates the bucket on first use when it does not exist.
func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.logger.Info().Str("bucket", p.bucket).Msg("Creating bucket")
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish uploads the archive at archivePath and returns the object's URL.
func (p *Publisher) Publish(ctx context.Context, archivePath string) (string, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}

	key := p.ObjectKey(archivePath)
	info, err := p.client.FPutObject(ctx, p.bucket, key, archivePath, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", archivePath, err)
	}

	u := *p.client.EndpointURL()
	u.Path = "/" + path.Join(p.bucket, key)
	p.logger.Info().
		Str("bucket", p.bucket).
		Str("key", key).
		Int64("bytes", info.Size).
		Msg("Published archive")
	return u.String(), nil
}

// ObjectKey returns the key an archive is stored under: the configured
// prefix joined with the archive's file name.
func (p *Publisher) ObjectKey(archivePath string) string {
	name := filepath.Base(archivePath)
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}
