// Package archive writes committed transactions to a parquet cold store.
// The archive is a convergent copy of what ClickHouse holds: segments are
// keyed by aligned slot windows, so a rerun over the same slots overwrites
// the same objects instead of accumulating duplicates.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
)

// SegmentRef describes an archived segment location.
type SegmentRef struct {
	Network   string
	SlotStart uint64
	SlotEnd   uint64
}

// Path returns the storage key for this segment's parquet file.
func (r SegmentRef) Path(prefix string) string {
	return fmt.Sprintf("%s%s/transactions/slots=%d-%d/part-%d-%d.parquet",
		prefix, r.Network, r.SlotStart, r.SlotEnd, r.SlotStart, r.SlotEnd)
}

// ManifestPath returns the storage key for this segment's manifest.
func (r SegmentRef) ManifestPath(prefix string) string {
	return fmt.Sprintf("%s%s/transactions/slots=%d-%d/_manifest.json",
		prefix, r.Network, r.SlotStart, r.SlotEnd)
}

// FileName returns the parquet file name without its directory.
func (r SegmentRef) FileName() string {
	return fmt.Sprintf("part-%d-%d.parquet", r.SlotStart, r.SlotEnd)
}

// Manifest describes the contents of a segment directory.
type Manifest struct {
	Segment   SegmentInfo  `json:"segment"`
	File      FileInfo     `json:"file"`
	Producer  ProducerInfo `json:"producer"`
	CreatedAt time.Time    `json:"created_at"`
}

// SegmentInfo describes the segment boundaries and what actually landed in
// it. SlotStart/SlotEnd are the aligned window; MinSlot/MaxSlot are the
// slots observed.
type SegmentInfo struct {
	Network   string `json:"network"`
	SlotStart uint64 `json:"slot_start"`
	SlotEnd   uint64 `json:"slot_end"`
	MinSlot   uint64 `json:"min_slot"`
	MaxSlot   uint64 `json:"max_slot"`
	RowCount  int64  `json:"row_count"`
}

// FileInfo describes the parquet file in the segment.
type FileInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the segment.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MarshalJSON returns the manifest as indented JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// Store abstracts writing segment payloads to storage.
type Store interface {
	// WriteSegment writes parquet bytes to storage.
	WriteSegment(ctx context.Context, ref SegmentRef, data []byte) error

	// WriteManifest writes a manifest file to storage.
	WriteManifest(ctx context.Context, ref SegmentRef, manifest *Manifest) error

	// Exists checks if a segment already exists.
	Exists(ctx context.Context, ref SegmentRef) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// NewStore creates a storage backend based on configuration.
func NewStore(cfg config.ArchiveConfig) (Store, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("local_dir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return NewGCSStore(cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewS3Store(cfg.Bucket, cfg.Prefix, cfg.Endpoint, cfg.Region)
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}
