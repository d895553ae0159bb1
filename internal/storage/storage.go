// Package storage uploads user files (avatars, admin session snapshots) to
// object storage and builds public URLs for them.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Bucket is a logical bucket name. Backends map it to a physical bucket or
// directory.
type Bucket string

const (
	BucketAvatars  Bucket = "avatars"
	BucketSessions Bucket = "sessions"
)

// ObjectStore is the subset of object storage the application needs.
type ObjectStore interface {
	// Upload writes r under key. Existing objects are overwritten.
	Upload(ctx context.Context, bucket Bucket, key string, r io.Reader) error
	// PublicURL returns a URL clients can fetch the object from.
	PublicURL(bucket Bucket, key string) string
}

// AvatarKey namespaces an avatar under the owning user: "{userID}/avatar.{ext}".
// ext may be given with or without the dot; it defaults to "jpg".
func AvatarKey(userID, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/avatar.%s", userID, ext)
}

// ExtFromFilename returns the extension of name without the dot, or "".
func ExtFromFilename(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// ContentTypeForKey guesses a MIME type from the key's extension.
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".heic"):
		return "image/heic"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// cleanKey strips leading slashes and rejects keys that would escape the
// bucket.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("storage: empty object key")
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("storage: object key %q escapes bucket", key)
	}
	return cleaned, nil
}
