// Package s3 publishes build output to S3-compatible object storage and can
// back the build cache with a bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Store wraps a bucket. The bucket is created on first use when missing.
type Store struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	initOnce sync.Once
	initErr  error
}

func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, &domain.ConfigurationError{Subject: "s3", Reason: "endpoint is required"}
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, &domain.ConfigurationError{Subject: "s3", Reason: "access key and secret key are required"}
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, &domain.ConfigurationError{Subject: "s3", Reason: "bucket is required"}
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

	return &Store{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *Store) put(ctx context.Context, key string, content []byte, contentType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if content == nil {
		content = []byte{}
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return nil, domain.ErrCacheMiss
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) key(parts ...string) string {
	elems := make([]string, 0, len(parts)+1)
	if s.prefix != "" {
		elems = append(elems, s.prefix)
	}
	for _, p := range parts {
		elems = append(elems, strings.TrimLeft(strings.TrimSpace(p), "/"))
	}
	return path.Join(elems...)
}

func contentType(p string) string {
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Sink uploads pipeline output under the store prefix.
type Sink struct {
	Store *Store
}

func (Sink) Name() string { return "s3" }

func (k Sink) Write(ctx context.Context, records []domain.FileRecord) error {
	for _, rec := range records {
		key := k.Store.key(rec.Path)
		if err := k.Store.put(ctx, key, rec.Content, contentType(rec.Path)); err != nil {
			return &domain.IOError{Op: "upload", Path: "s3://" + k.Store.bucket + "/" + key, Err: err}
		}
	}
	return nil
}

// Cache stores build cache entries as objects under "<prefix>/cache/".
type Cache struct {
	Store *Store
}

func (c Cache) Get(ctx context.Context, stageID, inputHash string) ([]byte, error) {
	data, err := c.Store.get(ctx, c.Store.key("cache", stageID, inputHash))
	if err != nil && !errors.Is(err, domain.ErrCacheMiss) {
		return nil, fmt.Errorf("s3 cache get: %w", err)
	}
	return data, err
}

func (c Cache) Put(ctx context.Context, stageID, inputHash string, data []byte) error {
	if err := c.Store.put(ctx, c.Store.key("cache", stageID, inputHash), data, "application/octet-stream"); err != nil {
		return fmt.Errorf("s3 cache put: %w", err)
	}
	return nil
}
