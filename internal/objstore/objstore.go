// Package objstore is the Object Storage capability used by the bulk purge
// utility: enumerate objects under a prefix and delete them.
//
// Nothing in the live request path touches the bucket; this exists for the
// operational task of clearing out uploaded assets (profile pictures,
// submission attachments) in one sweep.
package objstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Object is one stored object handle.
type Object struct {
	Key  string
	Size int64
}

// Store is the minimal bucket capability the purge tool needs.
type Store interface {
	// ListObjects streams every object under prefix. The channel closes
	// when the listing is exhausted or ctx is cancelled.
	ListObjects(ctx context.Context, prefix string) (<-chan Object, <-chan error)
	// DeleteObject removes one object. Deleting an absent object is not
	// an error.
	DeleteObject(ctx context.Context, key string) error
}

// S3 is a Store over any S3-compatible endpoint.
type S3 struct {
	client *minio.Client
	bucket string
}

var _ Store = (*S3)(nil)

// NewS3 connects to an S3-compatible endpoint.
func NewS3(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: connecting to %s: %w", endpoint, err)
	}
	return &S3{client: client, bucket: bucket}, nil
}

func (s *S3) ListObjects(ctx context.Context, prefix string) (<-chan Object, <-chan error) {
	objects := make(chan Object)
	errs := make(chan error, 1)

	go func() {
		defer close(objects)
		defer close(errs)
		for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if info.Err != nil {
				errs <- fmt.Errorf("objstore: listing %s/%s: %w", s.bucket, prefix, info.Err)
				return
			}
			select {
			case objects <- Object{Key: info.Key, Size: info.Size}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return objects, errs
}

func (s *S3) DeleteObject(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("objstore: deleting %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// PurgeResult summarizes one purge run.
type PurgeResult struct {
	Deleted int
	Failed  int
	Bytes   int64
}

// Purge deletes every object under prefix. With dryRun set it only counts.
// Individual delete failures are logged and counted, not fatal; the run
// reports how much of the bucket it actually cleared.
func Purge(ctx context.Context, store Store, prefix string, dryRun bool, logger *slog.Logger) (*PurgeResult, error) {
	result := &PurgeResult{}
	objects, errs := store.ListObjects(ctx, prefix)

	for obj := range objects {
		if dryRun {
			logger.Info("would delete", slog.String("key", obj.Key), slog.Int64("size", obj.Size))
			result.Deleted++
			result.Bytes += obj.Size
			continue
		}
		if err := store.DeleteObject(ctx, obj.Key); err != nil {
			logger.Error("delete failed", slog.String("key", obj.Key), slog.String("error", err.Error()))
			result.Failed++
			continue
		}
		result.Deleted++
		result.Bytes += obj.Size
	}

	if err := <-errs; err != nil {
		return result, err
	}
	return result, nil
}
