// Package storage archives finished videos to durable object storage.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

// Static errors for the storage package.
var (
	// ErrS3NotConfigured is returned when archiving is attempted without a bucket.
	ErrS3NotConfigured = errors.New("storage: S3 is not configured")
	// ErrVideoURIRequired is returned when there is nothing to archive.
	ErrVideoURIRequired = errors.New("storage: video URI is required")
	// ErrDownloadFailed is returned when the source video cannot be fetched.
	ErrDownloadFailed = errors.New("storage: download failed")
	// ErrVideoTooLarge is returned when the source exceeds the size limit.
	ErrVideoTooLarge = errors.New("storage: video exceeds size limit")
)

// Archiver copies a finished video to durable storage and returns its URL.
type Archiver interface {
	Archive(ctx context.Context, operationName, videoURI string) (url string, err error)
}

// ObjectKey returns the object key for an operation's video, e.g.
// "models/veo/operations/abc" -> "videos/abc.mp4".
func ObjectKey(operationName string) string {
	name := strings.TrimSpace(operationName)
	base := path.Base(name)
	if name == "" || base == "." || base == "/" {
		base = "video"
	}
	return "videos/" + base + ".mp4"
}
