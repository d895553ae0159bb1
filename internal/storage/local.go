package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on disk under root/{bucket}/{key}. It backs
// development setups without cloud credentials; the server exposes the
// avatars directory at /storage/avatars/.
type LocalStore struct {
	root    string
	baseURL string
}

var _ ObjectStore = (*LocalStore)(nil)

// NewLocal creates root if needed. baseURL is the externally reachable
// address of the API, e.g. "http://localhost:8080".
func NewLocal(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", root, err)
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory holding bucket's objects.
func (s *LocalStore) Dir(bucket Bucket) string {
	return filepath.Join(s.root, string(bucket))
}

func (s *LocalStore) Upload(ctx context.Context, bucket Bucket, key string, r io.Reader) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := filepath.Join(s.Dir(bucket), filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: creating directory for %s: %w", key, err)
	}

	// Write to a temp file first so readers never see a half-written object.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: creating temp file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: closing %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: moving %s into place: %w", key, err)
	}
	return nil
}

func (s *LocalStore) PublicURL(bucket Bucket, key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	return fmt.Sprintf("%s/storage/%s/%s", s.baseURL, bucket, key)
}
