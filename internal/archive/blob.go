package archive

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
)

// blobStore writes segments through a gocloud.dev bucket. GCS and S3 share
// this implementation and differ only in how the bucket URL is built.
type blobStore struct {
	bucket *blob.Bucket
	scheme string // "gs" | "s3"
	name   string
	prefix string
}

func openBlobStore(bucketURL, scheme, name, prefix string) (*blobStore, error) {
	bucket, err := blob.OpenBucket(context.Background(), bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return &blobStore{bucket: bucket, scheme: scheme, name: name, prefix: prefix}, nil
}

// WriteSegment writes parquet bytes to the bucket.
func (s *blobStore) WriteSegment(ctx context.Context, ref SegmentRef, data []byte) error {
	return s.writeObject(ctx, ref.Path(s.prefix), data)
}

// WriteManifest writes a manifest file to the bucket.
func (s *blobStore) WriteManifest(ctx context.Context, ref SegmentRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeObject(ctx, ref.ManifestPath(s.prefix), data)
}

func (s *blobStore) writeObject(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Exists checks if a segment already exists in the bucket.
func (s *blobStore) Exists(ctx context.Context, ref SegmentRef) (bool, error) {
	return s.bucket.Exists(ctx, ref.Path(s.prefix))
}

// URI returns the canonical URI for the given key.
func (s *blobStore) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, key)
}

// Close releases the bucket connection.
func (s *blobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
