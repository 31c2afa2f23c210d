// Package archive uploads every successfully saved snapshot to an
// S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"libprep/api/internal/grid"
)

type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, reader *bytes.Reader, size int64, contentType string) error
}

type Store struct {
	bucket string
	client objectPutter
	now    func() time.Time
}

// New connects to the archive bucket, creating it when missing. A config
// without an endpoint returns a nil Store, whose Put is a no-op.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check archive bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create archive bucket: %w", err)
		}
	}
	return &Store{bucket: cfg.Bucket, client: minioPutter{client}, now: time.Now}, nil
}

// Put writes snap as <hospital>/<group>/<timestamp>.json and returns the key.
func (s *Store) Put(ctx context.Context, hospital, group string, snap grid.Snapshot) (string, error) {
	if s == nil {
		return "", nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	key := ObjectKey(hospital, group, s.now())
	if err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	return key, nil
}

func ObjectKey(hospital, group string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json",
		url.PathEscape(hospital),
		url.PathEscape(group),
		at.UTC().Format("20060102T150405.000Z"))
}

type minioPutter struct {
	client *minio.Client
}

func (m minioPutter) PutObject(ctx context.Context, bucket, key string, reader *bytes.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}
