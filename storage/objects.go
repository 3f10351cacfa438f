package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// ObjectInfo describes one object in the bucket.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// BucketStats summarises a listing.
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ListObjects lists every object under prefix, recursively.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var objects []ObjectInfo
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", prefix, object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
			ETag:         object.ETag,
		})
	}
	return objects, nil
}

// Stats computes totals over a listing.
func Stats(objects []ObjectInfo) BucketStats {
	var stats BucketStats
	for _, o := range objects {
		stats.TotalObjects++
		stats.TotalSize += o.Size
		if o.LastModified.After(stats.LastModified) {
			stats.LastModified = o.LastModified
		}
	}
	return stats
}

// ContentTypeFor infers a MIME type from the file extension.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".opus":
		return "audio/opus"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a", ".aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}

// IsAudio reports whether filename has a known audio extension.
func IsAudio(filename string) bool {
	return strings.HasPrefix(ContentTypeFor(filename), "audio/")
}
