package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore writes segments to the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a local filesystem store rooted at baseDir.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}
	return &LocalStore{baseDir: baseDir, prefix: prefix}, nil
}

// WriteSegment writes parquet bytes to the local filesystem.
func (s *LocalStore) WriteSegment(ctx context.Context, ref SegmentRef, data []byte) error {
	return s.writeFile(filepath.Join(s.baseDir, ref.Path(s.prefix)), data)
}

// WriteManifest writes a manifest file to the local filesystem.
func (s *LocalStore) WriteManifest(ctx context.Context, ref SegmentRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeFile(filepath.Join(s.baseDir, ref.ManifestPath(s.prefix)), data)
}

// writeFile writes atomically using temp file + rename.
func (s *LocalStore) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}

// Exists checks if a segment already exists.
func (s *LocalStore) Exists(ctx context.Context, ref SegmentRef) (bool, error) {
	_, err := os.Stat(filepath.Join(s.baseDir, ref.Path(s.prefix)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	return "file://" + filepath.Join(s.baseDir, key)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}
