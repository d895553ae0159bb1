package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig names the physical buckets behind each logical bucket.
type GCSConfig struct {
	AvatarBucket  string
	SessionBucket string
	// AvatarCDN, when set, fronts the avatar bucket: URLs become
	// https://{AvatarCDN}/{key}.
	AvatarCDN string
	// Credentials is either inline JSON or a path to a key file. Empty
	// means application default credentials.
	Credentials string
}

type gcsBucket struct {
	name      string
	cdnDomain string
}

// GCSStore stores objects in Google Cloud Storage.
type GCSStore struct {
	client  *gcs.Client
	buckets map[Bucket]gcsBucket
	logger  *slog.Logger
}

var _ ObjectStore = (*GCSStore)(nil)

// NewGCS creates a storage client for cfg.
func NewGCS(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSStore, error) {
	if cfg.AvatarBucket == "" {
		return nil, fmt.Errorf("storage: missing avatar bucket name")
	}

	opts := []option.ClientOption{option.WithScopes(gcs.ScopeReadWrite)}
	if creds := strings.TrimSpace(cfg.Credentials); creds != "" {
		if strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: creating GCS client: %w", err)
	}

	buckets := map[Bucket]gcsBucket{
		BucketAvatars: {name: cfg.AvatarBucket, cdnDomain: cfg.AvatarCDN},
	}
	if cfg.SessionBucket != "" {
		buckets[BucketSessions] = gcsBucket{name: cfg.SessionBucket}
	}

	logger.Info("object storage initialized",
		slog.String("backend", "gcs"),
		slog.String("avatar_bucket", cfg.AvatarBucket),
		slog.String("session_bucket", cfg.SessionBucket),
	)

	return &GCSStore{client: client, buckets: buckets, logger: logger}, nil
}

// Upload streams r into the object. The write is bounded to two minutes.
func (s *GCSStore) Upload(ctx context.Context, bucket Bucket, key string, r io.Reader) error {
	b, ok := s.buckets[bucket]
	if !ok {
		return fmt.Errorf("storage: unknown bucket %q", bucket)
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(b.name).Object(key).NewWriter(ctx)
	w.ContentType = ContentTypeForKey(key)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: writing %s/%s: %w", b.name, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: closing %s/%s: %w", b.name, key, err)
	}
	return nil
}

// PublicURL prefers the CDN domain, then the public GCS endpoint.
func (s *GCSStore) PublicURL(bucket Bucket, key string) string {
	b, ok := s.buckets[bucket]
	if !ok {
		return key
	}
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if b.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", b.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", b.name, key)
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
